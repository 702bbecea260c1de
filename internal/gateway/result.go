package gateway

// Result 表示一次网关调用的两态结果：成功值，或带原因的缺失值。
// 运行期失败不以 error 形式向调用方抛出，只体现在缺失结果上，
// 调用方在使用前必须先判断 Ok。
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Success 构造成功结果。
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Failure 构造带原因的缺失结果。
func Failure[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Ok 报告调用是否成功。
func (r Result[T]) Ok() bool {
	return r.ok
}

// Value 返回成功值，失败时为零值。
func (r Result[T]) Value() T {
	return r.value
}

// Err 返回失败原因，成功时为 nil。
func (r Result[T]) Err() error {
	return r.err
}

// Get 同时返回值与是否成功，便于调用方一行判断。
func (r Result[T]) Get() (T, bool) {
	return r.value, r.ok
}
