package handler

import (
	"strconv"

	"walletsvc/internal/config"
	"walletsvc/internal/service"
	"walletsvc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	walletService  *service.WalletService
	packageService *service.CreditPackageService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, cfg *config.Config) *Handler {
	return &Handler{
		walletService:  service.NewWalletService(db, cfg),
		packageService: service.NewCreditPackageService(db),
	}
}

// ============================================================
// 钱包相关接口
// ============================================================

// CreateWalletRequest 创建钱包请求
type CreateWalletRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CreateWallet 创建钱包
// POST /api/v1/wallet
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.walletService.CreateWallet(c.Request.Context(), req.UserID)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, wallet)
}

// GetWallet 查询钱包详情
// GET /api/v1/wallet?user_id=xxx
func (h *Handler) GetWallet(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, wallet)
}

// GetBalance 查询余额视图
// GET /api/v1/wallet/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	balance, err := h.walletService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, balance)
}

// ValidateBalance 校验可用余额是否足够
// GET /api/v1/wallet/validate?user_id=xxx&amount=10.50
func (h *Handler) ValidateBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		response.ParamError(c, "amount 参数错误")
		return
	}

	sufficient, err := h.walletService.ValidateBalance(c.Request.Context(), userID, amount)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"sufficient": sufficient,
	})
}

// ListTransactions 查询流水列表
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 资金操作接口
// ============================================================

// Hold 预扣额度
// POST /api/v1/wallet/hold
func (h *Handler) Hold(c *gin.Context) {
	var req service.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Hold(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// ReleaseHold 释放预扣
// POST /api/v1/wallet/hold/release
func (h *Handler) ReleaseHold(c *gin.Context) {
	var req struct {
		HoldID int64 `json:"hold_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.ReleaseHold(c.Request.Context(), req.HoldID)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// Charge 扣费（直接扣费或从预扣确认）
// POST /api/v1/wallet/charge
func (h *Handler) Charge(c *gin.Context) {
	var req service.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Charge(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// Refund 退款
// POST /api/v1/wallet/refund
func (h *Handler) Refund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Refund(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// TopUp 充值入账
// POST /api/v1/wallet/topup
func (h *Handler) TopUp(c *gin.Context) {
	var req service.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.TopUp(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// Adjustment 人工调账（正数入账，负数出账）
// POST /api/v1/wallet/adjustment
func (h *Handler) Adjustment(c *gin.Context) {
	var req service.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.Adjustment(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// DeductTokens 扣减 Token
// POST /api/v1/wallet/token/deduct
func (h *Handler) DeductTokens(c *gin.Context) {
	var req service.DeductTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.walletService.DeductTokens(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 积分套餐接口
// ============================================================

// ListPackages 查询在售套餐列表
// GET /api/v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.packageService.ListActivePackages(c.Request.Context())
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, packages)
}

// GetPackage 查询套餐详情
// GET /api/v1/packages/:id
func (h *Handler) GetPackage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	pkg, err := h.packageService.GetPackage(c.Request.Context(), id)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, pkg)
}
