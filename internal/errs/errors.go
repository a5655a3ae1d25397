package errs

import "fmt"

// ============================================================================
// 业务错误码
// ============================================================================
//
// 错误码对外稳定，客户端按 code 分支处理；
// 未归类的内部错误一律收敛到 CodeUncategorized，避免泄漏实现细节

const (
	CodeUncategorized = 9999

	CodeWalletNotFound      = 2001
	CodeWalletAlreadyExists = 2002
	CodeInsufficientBalance = 2003
	CodeWalletSuspended     = 2004
	CodeWalletClosed        = 2005

	CodeTransactionNotFound = 2101

	CodeHoldNotFound        = 2201
	CodeHoldExpired         = 2202
	CodeHoldAlreadyReleased = 2203

	CodePackageNotFound = 2301

	CodeInvalidAmount = 2401

	CodeInsufficientToken = 2501
)

// AppError 业务错误，自带稳定错误码
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

var (
	ErrWalletNotFound      = New(CodeWalletNotFound, "钱包不存在")
	ErrWalletAlreadyExists = New(CodeWalletAlreadyExists, "该用户的钱包已存在")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "可用余额不足")
	ErrWalletSuspended     = New(CodeWalletSuspended, "钱包已被冻结")
	ErrWalletClosed        = New(CodeWalletClosed, "钱包已注销")

	ErrTransactionNotFound = New(CodeTransactionNotFound, "流水不存在")

	ErrHoldNotFound        = New(CodeHoldNotFound, "预扣记录不存在")
	ErrHoldExpired         = New(CodeHoldExpired, "预扣已过期")
	ErrHoldAlreadyReleased = New(CodeHoldAlreadyReleased, "预扣已被释放")

	ErrPackageNotFound = New(CodePackageNotFound, "积分套餐不存在")

	ErrInvalidAmount = New(CodeInvalidAmount, "金额不合法")

	ErrInsufficientToken = New(CodeInsufficientToken, "Token 余额不足")
)
