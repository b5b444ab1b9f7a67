package httpapi

// Result 响应信封
// code: 2000 成功（含 warning），-1 失败
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

const (
	resultTypeSuccess = "success"
	resultTypeWarning = "warning"
	resultTypeError   = "error"
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: resultTypeSuccess, Message: "ok", Result: result}
}

// Warn 操作已生效，但附带的步骤失败（如审计日志未写入）
func Warn[T any](result T, message string) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: resultTypeWarning, Message: message, Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: resultTypeError, Message: message}
}
