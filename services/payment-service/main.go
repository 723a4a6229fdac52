package main

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bookhaven/payments/internal/gateway"
	"github.com/bookhaven/payments/internal/metrics"
	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/patterns"
	"github.com/bookhaven/payments/internal/secure"
	"github.com/bookhaven/payments/internal/store"
	"github.com/bookhaven/payments/internal/threeds"
	"github.com/bookhaven/payments/internal/validate"
)

const serviceName = "payment-service"

// PaymentService wires the validation core, the simulated gateway, the 3DS
// manager, the hardening layer, and the record store behind the HTTP
// surface the storefront calls.
type PaymentService struct {
	handler  *secure.Handler
	sim      *gateway.Simulator
	threeDS  *threeds.Manager
	records  *store.Store
	circuit  *patterns.CircuitBreakerWrapper
	bulkhead *patterns.Bulkhead
}

var paymentService *PaymentService

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded configuration from .env")
	}

	dbPath := getEnv("RECORDS_DB_PATH", "payments.db")
	records, err := store.New(dbPath)
	if err != nil {
		log.Fatal("Failed to open record store: ", err)
	}
	defer records.Close()

	rateLimitMax, _ := strconv.Atoi(getEnv("RATE_LIMIT_MAX", "20"))
	signingKey := getEnv("THREEDS_SIGNING_KEY", "")
	if signingKey == "" {
		log.Warn("THREEDS_SIGNING_KEY not set, using an ephemeral key; issued tokens will not survive restarts")
		signingKey = uuid.NewString()
	}

	paymentService = &PaymentService{
		handler:  secure.NewHandler(secure.Config{RateLimitMax: rateLimitMax}),
		sim:      gateway.NewSimulator(nil),
		threeDS:  threeds.NewManager(threeds.Config{SigningKey: []byte(signingKey)}),
		records:  records,
		circuit:  patterns.NewCircuitBreaker("Gateway", serviceName),
		bulkhead: patterns.NewBulkhead(10, "gateway", serviceName),
	}

	// Expired challenge sessions are otherwise only evicted on lookup;
	// the sweep keeps the store bounded when challenges are abandoned.
	go func() {
		for range time.Tick(time.Minute) {
			if removed := paymentService.threeDS.Sweep(); removed > 0 {
				log.WithField("removed", removed).Debug("Swept 3DS sessions")
			}
		}
	}()

	router := setupRouter(paymentService)

	port := getEnv("PORT", "8082")
	log.WithField("port", port).Info("Payment Service starting")
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func setupRouter(svc *PaymentService) *gin.Engine {
	router := gin.Default()
	router.Use(metrics.PrometheusMiddleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.POST("/payment/validate", svc.validatePayment)
	router.POST("/payment/charge", svc.chargePayment)
	router.GET("/payment/records", svc.listRecords)
	router.GET("/payment/records/:recordId", svc.getRecord)

	router.POST("/3ds/initiate", svc.initiate3DS)
	router.POST("/3ds/verify", svc.verify3DS)
	router.GET("/3ds/:challengeId/status", svc.challengeStatus)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// validatePayment checks payment details without attempting a charge. The
// result is always 200: an invalid method is a routine answer, not an
// HTTP error.
func (svc *PaymentService) validatePayment(c *gin.Context) {
	var req models.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	sanitized, err := svc.handler.Sanitize(req.Details)
	if err != nil {
		c.JSON(http.StatusOK, models.ValidationResult{Valid: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, validate.Method(req.Method, sanitized))
}

func (svc *PaymentService) chargePayment(c *gin.Context) {
	var req models.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ChargeResponse{
			Status:  models.RecordStatusFailed,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = c.ClientIP()
	}

	// Hardening pipeline: rate limit, sanitize, validate, fraud scan.
	result, err := svc.handler.Process(req.Amount, req.Method, req.Details, clientID)
	if err != nil {
		var rle *secure.RateLimitError
		if errors.As(err, &rle) {
			metrics.RateLimitRejections.Inc()
			c.JSON(http.StatusTooManyRequests, models.ChargeResponse{
				Status:  models.RecordStatusFailed,
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, models.ChargeResponse{
			Status:  models.RecordStatusFailed,
			Message: err.Error(),
		})
		return
	}

	// A completed 3DS challenge arrives as a signed token. Verification
	// failures deny the charge outright.
	if req.ThreeDSToken != "" {
		if _, err := svc.threeDS.VerifyToken(req.ThreeDSToken); err != nil {
			c.JSON(http.StatusUnauthorized, models.ChargeResponse{
				Status:  models.RecordStatusFailed,
				Message: "3D Secure authentication could not be verified",
			})
			return
		}
	}

	metrics.FraudFlags.Add(float64(len(result.FraudWarnings)))

	record := result.Record
	if err := svc.records.Create(&record); err != nil {
		log.Error("Failed to persist payment record: ", err)
		c.JSON(http.StatusInternalServerError, models.ChargeResponse{
			Status:  models.RecordStatusFailed,
			Message: "Internal error",
		})
		return
	}

	confirmation, chargeErr := svc.charge(req.Amount, req.Method, result.Sanitized)

	amountFloat, _ := req.Amount.Round(2).Float64()

	if chargeErr != nil {
		if _, err := svc.records.UpdateStatus(record.ID, models.RecordStatusFailed); err != nil {
			log.Error("Failed to update payment record: ", err)
		}

		var payErr gateway.PaymentError
		if !errors.As(chargeErr, &payErr) {
			// Breaker open or bulkhead full: the gateway was never reached.
			c.JSON(http.StatusServiceUnavailable, models.ChargeResponse{
				RecordID: record.ID,
				Status:   models.RecordStatusFailed,
				Message:  "Payment service temporarily unavailable",
			})
			return
		}

		metrics.PaymentOutcomes.WithLabelValues(payErr.Code()).Inc()
		svc.handler.LogAttempt(req.Method, req.Amount, result.Sanitized, clientID, "failed", payErr.Code())

		classification := gateway.Classify(chargeErr)
		c.JSON(http.StatusPaymentRequired, models.ChargeResponse{
			RecordID:        record.ID,
			Status:          models.RecordStatusFailed,
			CardType:        result.CardType,
			Message:         classification.UserMessage,
			Severity:        classification.Severity,
			SuggestedAction: classification.SuggestedAction,
			ErrorCode:       payErr.Code(),
			FraudWarnings:   result.FraudWarnings,
			RequiresReview:  result.RequiresReview,
		})
		return
	}

	if _, err := svc.records.UpdateStatus(record.ID, models.RecordStatusCompleted); err != nil {
		log.Error("Failed to update payment record: ", err)
	}

	metrics.PaymentOutcomes.WithLabelValues("success").Inc()
	metrics.PaymentAmount.Observe(amountFloat)
	svc.handler.LogAttempt(req.Method, req.Amount, result.Sanitized, clientID, "success", "")

	c.JSON(http.StatusOK, models.ChargeResponse{
		TransactionID:  transactionIDFrom(confirmation),
		RecordID:       record.ID,
		Status:         models.RecordStatusCompleted,
		Message:        confirmation,
		CardType:       result.CardType,
		FraudWarnings:  result.FraudWarnings,
		RequiresReview: result.RequiresReview,
	})
}

// charge runs the simulated gateway call behind the bulkhead and circuit
// breaker. Business outcomes (declines, insufficient funds) pass through
// without counting as breaker failures; only infrastructure-shaped
// failures (timeouts, server faults) trip the circuit.
func (svc *PaymentService) charge(amount decimal.Decimal, method models.PaymentMethod, details models.Details) (string, error) {
	type chargeResult struct {
		confirmation string
		payErr       error
	}

	var res chargeResult
	err := svc.bulkhead.Execute(func() error {
		out, cbErr := svc.circuit.Execute(func() (interface{}, error) {
			confirmation, err := svc.sim.Charge(amount, method, details)
			var timeout *gateway.NetworkTimeoutError
			var generic *gateway.GenericError
			if errors.As(err, &timeout) || errors.As(err, &generic) {
				return nil, err
			}
			return chargeResult{confirmation: confirmation, payErr: err}, nil
		})
		if cbErr != nil {
			return patterns.FormatError("Gateway", cbErr)
		}
		res = out.(chargeResult)
		return nil
	})
	if err != nil {
		return "", err
	}

	if res.payErr != nil {
		return "", res.payErr
	}
	return res.confirmation, nil
}

func (svc *PaymentService) initiate3DS(c *gin.Context) {
	var req struct {
		CardNumber string          `json:"card_number" binding:"required"`
		Amount     decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	amount, err := secure.SanitizeAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	init := svc.threeDS.Initiate(req.CardNumber, amount)

	flow := "frictionless"
	if init.RequiresChallenge {
		flow = "challenge"
	}
	metrics.ThreeDSChallenges.WithLabelValues(flow).Inc()

	c.JSON(http.StatusOK, init)
}

func (svc *PaymentService) verify3DS(c *gin.Context) {
	var req struct {
		ChallengeID string `json:"challenge_id" binding:"required"`
		Code        string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	verification := svc.threeDS.Verify(req.ChallengeID, req.Code)
	metrics.ThreeDSVerifications.WithLabelValues(verification.AuthenticationStatus).Inc()

	c.JSON(http.StatusOK, verification)
}

func (svc *PaymentService) challengeStatus(c *gin.Context) {
	status, ok := svc.threeDS.Status(c.Param("challengeId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge session not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (svc *PaymentService) listRecords(c *gin.Context) {
	records, err := svc.records.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (svc *PaymentService) getRecord(c *gin.Context) {
	record, err := svc.records.Get(c.Param("recordId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load record"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// transactionIDFrom pulls the transaction id out of the gateway's
// confirmation message.
func transactionIDFrom(confirmation string) string {
	const marker = "Transaction ID: "
	if i := strings.LastIndex(confirmation, marker); i >= 0 {
		return confirmation[i+len(marker):]
	}
	return ""
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
