package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponvault/couponvault/internal/companies"
	"github.com/couponvault/couponvault/internal/extract"
	"github.com/couponvault/couponvault/pkg/coupon"
)

// Deps collects the collaborators the façade calls into.
type Deps struct {
	Service   *coupon.Service
	Extractor *extract.Client
	Catalog   *companies.Catalog
	Logger    *zap.Logger
}

// Run boots the HTTP façade and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, cfg Config, deps Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router := NewRouter(cfg, deps)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("couponvault listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine with CORS, request ids, and all routes.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", userIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{
		service:   deps.Service,
		extractor: deps.Extractor,
		catalog:   deps.Catalog,
		logger:    deps.Logger,
		timeout:   cfg.RequestTimeout,
	}

	api := router.Group("/api")
	api.GET("/wallet", handler.handleWallet)
	api.GET("/coupons", handler.handleListCoupons)
	api.POST("/coupons", handler.handleCreateCoupon)
	api.GET("/coupons/:id", handler.handleGetCoupon)
	api.PATCH("/coupons/:id", handler.handleUpdateCoupon)
	api.DELETE("/coupons/:id", handler.handleDeleteCoupon)
	api.POST("/coupons/:id/usages", handler.handleRecordUsage)
	api.GET("/coupons/:id/ledger", handler.handleLedger)
	api.GET("/companies", handler.handleListCompanies)
	api.POST("/companies/refresh", handler.handleRefreshCompanies)
	api.POST("/extract", handler.handleExtract)

	return router
}

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Writer.Header().Set("X-Request-ID", uuid.NewString())
		ctx.Next()
	}
}

type httpHandler struct {
	service   *coupon.Service
	extractor *extract.Client
	catalog   *companies.Catalog
	logger    *zap.Logger
	timeout   time.Duration
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *httpHandler) currentUser(ctx *gin.Context) (coupon.UserID, bool) {
	userID, err := coupon.NewUserID(ctx.GetHeader(userIDHeader))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_user", "X-User-ID header is required"))
		return coupon.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) couponID(ctx *gin.Context) (coupon.CouponID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "coupon id must be a positive integer"))
		return 0, false
	}
	id, err := coupon.NewCouponID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "coupon id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.service.Wallet(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total":        summary.Total,
		"coupon_count": summary.CouponCount,
	})
}

func (handler *httpHandler) handleListCoupons(ctx *gin.Context) {
	userID, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	records, err := handler.service.ListCoupons(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]couponPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, toCouponPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"coupons": payload})
}

func (handler *httpHandler) handleCreateCoupon(ctx *gin.Context) {
	userID, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	var request draftRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.CreateCoupon(requestCtx, userID, request.toDraft())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"coupon": toCouponPayload(record)})
}

func (handler *httpHandler) handleGetCoupon(ctx *gin.Context) {
	id, ok := handler.couponID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.GetCoupon(requestCtx, id)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"coupon": toCouponPayload(record)})
}

func (handler *httpHandler) handleUpdateCoupon(ctx *gin.Context) {
	id, ok := handler.couponID(ctx)
	if !ok {
		return
	}
	var request patchRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	patch, err := request.toPatch()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.UpdateCoupon(requestCtx, id, patch)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"coupon": toCouponPayload(record)})
}

func (handler *httpHandler) handleDeleteCoupon(ctx *gin.Context) {
	id, ok := handler.couponID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.DeleteCoupon(requestCtx, id); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (handler *httpHandler) handleRecordUsage(ctx *gin.Context) {
	id, ok := handler.couponID(ctx)
	if !ok {
		return
	}
	var request usageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.RecordUsage(requestCtx, id, request.Amount, request.Details)
	if errors.Is(err, coupon.ErrPartialWrite) {
		// The increment landed; the missing audit row is a diagnostics
		// concern, not a user-facing failure.
		handler.logger.Error("usage transaction append failed", zap.Int64("coupon_id", id.Int64()), zap.Error(err))
		err = nil
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"coupon": toCouponPayload(record)})
}

func (handler *httpHandler) handleLedger(ctx *gin.Context) {
	id, ok := handler.couponID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rows, err := handler.service.ConsolidatedView(requestCtx, id)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]ledgerRowPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, ledgerRowPayload{
			Kind:      string(row.Kind),
			Amount:    row.Amount,
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"rows": payload})
}

func (handler *httpHandler) handleListCompanies(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	list, err := handler.catalog.Companies(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"companies": list})
}

func (handler *httpHandler) handleRefreshCompanies(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.catalog.Refresh(requestCtx); err != nil {
		handler.respondError(ctx, err)
		return
	}
	list, err := handler.catalog.Companies(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"companies": list})
}

func (handler *httpHandler) handleExtract(ctx *gin.Context) {
	var request extractRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.Text == "" && request.ImageBase64 == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "text or image_base64 is required"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	var draft extract.Draft
	var err error
	if request.ImageBase64 != "" {
		draft, err = handler.extractor.ExtractFromImage(requestCtx, request.ImageBase64, request.Text)
	} else {
		draft, err = handler.extractor.ExtractFromText(requestCtx, request.Text)
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	canonical, err := handler.catalog.Companies(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reconciled := extract.Reconcile(request.Text, draft, canonical)
	ctx.JSON(http.StatusOK, gin.H{"draft": reconciled})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, coupon.ErrCouponNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "coupon not found"))
	case errors.Is(err, coupon.ErrIDSpaceExhausted), errors.Is(err, coupon.ErrCouponIDTaken):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", "could not allocate a coupon id"))
	case errors.Is(err, coupon.ErrInvalidDraft),
		errors.Is(err, coupon.ErrInvalidAmount),
		errors.Is(err, coupon.ErrInvalidExpiration),
		errors.Is(err, coupon.ErrInvalidStatus),
		errors.Is(err, coupon.ErrEmptyPatch):
		ctx.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	case errors.Is(err, extract.ErrAuthentication):
		handler.logger.Error("extraction auth failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("extraction_auth", "extraction service rejected credentials"))
	case errors.Is(err, extract.ErrRateLimited):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("extraction_busy", "extraction service is busy, try again later"))
	case errors.Is(err, extract.ErrDecode), errors.Is(err, extract.ErrEmptyCompletion):
		handler.logger.Error("extraction decode failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("extraction_error", "could not read extraction result"))
	default:
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "something went wrong"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type draftRequest struct {
	Company       string          `json:"company"`
	Code          string          `json:"code"`
	Description   string          `json:"description"`
	CVV           string          `json:"cvv"`
	CardExp       string          `json:"card_exp"`
	Value         decimal.Decimal `json:"value"`
	Cost          decimal.Decimal `json:"cost"`
	IsForSale     bool            `json:"is_for_sale"`
	ExcludeSaving bool            `json:"exclude_saving"`
	IsOneTime     bool            `json:"is_one_time"`
	BuyMeURL      string          `json:"buyme_url"`
	StraussURL    string          `json:"strauss_url"`
	XtraURL       string          `json:"xtra_url"`
	XGiftCardURL  string          `json:"xgiftcard_url"`
	Expiration    string          `json:"expiration"`
}

func (request draftRequest) toDraft() coupon.Draft {
	return coupon.Draft{
		Company:       request.Company,
		Code:          request.Code,
		Description:   request.Description,
		CVV:           request.CVV,
		CardExp:       request.CardExp,
		Value:         request.Value,
		Cost:          request.Cost,
		IsForSale:     request.IsForSale,
		ExcludeSaving: request.ExcludeSaving,
		IsOneTime:     request.IsOneTime,
		BuyMeURL:      request.BuyMeURL,
		StraussURL:    request.StraussURL,
		XtraURL:       request.XtraURL,
		XGiftCardURL:  request.XGiftCardURL,
		Expiration:    request.Expiration,
	}
}

type patchRequest struct {
	Company       *string          `json:"company"`
	Code          *string          `json:"code"`
	Description   *string          `json:"description"`
	CVV           *string          `json:"cvv"`
	CardExp       *string          `json:"card_exp"`
	Value         *decimal.Decimal `json:"value"`
	Cost          *decimal.Decimal `json:"cost"`
	Status        *string          `json:"status"`
	IsForSale     *bool            `json:"is_for_sale"`
	ExcludeSaving *bool            `json:"exclude_saving"`
	IsOneTime     *bool            `json:"is_one_time"`
	IsAvailable   *bool            `json:"is_available"`
	BuyMeURL      *string          `json:"buyme_url"`
	StraussURL    *string          `json:"strauss_url"`
	XtraURL       *string          `json:"xtra_url"`
	XGiftCardURL  *string          `json:"xgiftcard_url"`
	Expiration    *string          `json:"expiration"`
}

func (request patchRequest) toPatch() (coupon.Patch, error) {
	patch := coupon.Patch{
		Company:       request.Company,
		Code:          request.Code,
		Description:   request.Description,
		CVV:           request.CVV,
		CardExp:       request.CardExp,
		Value:         request.Value,
		Cost:          request.Cost,
		IsForSale:     request.IsForSale,
		ExcludeSaving: request.ExcludeSaving,
		IsOneTime:     request.IsOneTime,
		IsAvailable:   request.IsAvailable,
		BuyMeURL:      request.BuyMeURL,
		StraussURL:    request.StraussURL,
		XtraURL:       request.XtraURL,
		XGiftCardURL:  request.XGiftCardURL,
		Expiration:    request.Expiration,
	}
	if request.Status != nil {
		status, err := coupon.ParseStatus(*request.Status)
		if err != nil {
			return coupon.Patch{}, err
		}
		patch.Status = &status
	}
	return patch, nil
}

type usageRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Details string          `json:"details"`
}

type extractRequest struct {
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
}

type couponPayload struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	Company         string          `json:"company"`
	Code            string          `json:"code"`
	Description     string          `json:"description"`
	CVV             string          `json:"cvv"`
	CardExp         string          `json:"card_exp"`
	Value           decimal.Decimal `json:"value"`
	Cost            decimal.Decimal `json:"cost"`
	UsedValue       decimal.Decimal `json:"used_value"`
	RemainingValue  decimal.Decimal `json:"remaining_value"`
	UsagePercentage decimal.Decimal `json:"usage_percentage"`
	Status          string          `json:"status"`
	IsForSale       bool            `json:"is_for_sale"`
	ExcludeSaving   bool            `json:"exclude_saving"`
	IsOneTime       bool            `json:"is_one_time"`
	IsAvailable     bool            `json:"is_available"`
	IsFullyUsed     bool            `json:"is_fully_used"`
	IsExpired       bool            `json:"is_expired"`
	BuyMeURL        string          `json:"buyme_url"`
	StraussURL      string          `json:"strauss_url"`
	XtraURL         string          `json:"xtra_url"`
	XGiftCardURL    string          `json:"xgiftcard_url"`
	Expiration      string          `json:"expiration"`
	DateAdded       time.Time       `json:"date_added"`
}

func toCouponPayload(record coupon.Coupon) couponPayload {
	return couponPayload{
		ID:              record.ID.Int64(),
		UserID:          record.UserID.String(),
		Company:         record.Company,
		Code:            record.Code,
		Description:     record.Description,
		CVV:             record.CVV,
		CardExp:         record.CardExp,
		Value:           record.Value,
		Cost:            record.Cost,
		UsedValue:       record.UsedValue,
		RemainingValue:  coupon.Remaining(record),
		UsagePercentage: coupon.UsagePercentage(record),
		Status:          record.Status.String(),
		IsForSale:       record.IsForSale,
		ExcludeSaving:   record.ExcludeSaving,
		IsOneTime:       record.IsOneTime,
		IsAvailable:     record.IsAvailable,
		IsFullyUsed:     coupon.IsFullyUsed(record),
		IsExpired:       coupon.IsExpired(record, time.Now().UTC()),
		BuyMeURL:        record.BuyMeURL,
		StraussURL:      record.StraussURL,
		XtraURL:         record.XtraURL,
		XGiftCardURL:    record.XGiftCardURL,
		Expiration:      record.Expiration,
		DateAdded:       record.DateAdded,
	}
}

type ledgerRowPayload struct {
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Details   string          `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}
