package models

// RequestKind описывает тип отложенной мутирующей операции.
type RequestKind string

const (
	KindCreate RequestKind = "CREATE"
	KindUpdate RequestKind = "UPDATE"
	KindDelete RequestKind = "DELETE"
	KindSubmit RequestKind = "SUBMIT"
)

// OfflineRequest представляет мутирующую операцию, поставленную в очередь
// в офлайне. Очередь — единственный владелец записи: создаётся любым
// write-путём, мутируется только оркестратором синхронизации во время
// drain-цикла, удаляется при успехе или подтверждённом переносе в dead-letter.
type OfflineRequest struct {
	ID         string      `json:"id"`          // ID уникальный идентификатор запроса (UUID)
	Kind       RequestKind `json:"kind"`        // Kind тип операции
	Endpoint   string      `json:"endpoint"`    // Endpoint путь запроса, например "/Audits"
	Method     string      `json:"method"`      // Method HTTP метод (POST, PUT, PATCH, DELETE)
	Payload    []byte      `json:"payload"`     // Payload непрозрачное JSON-тело запроса
	EnqueuedAt int64       `json:"enqueued_at"` // EnqueuedAt момент постановки в очередь (unix ms)
	RetryCount int         `json:"retry_count"` // RetryCount выполненные повторы, retry_count <= max_retries
	MaxRetries int         `json:"max_retries"` // MaxRetries предел повторов, > 0
}

// RetriesExhausted сообщает, что очередной отказ должен перевести запрос
// в dead-letter вместо повтора.
func (r *OfflineRequest) RetriesExhausted() bool {
	return r.RetryCount >= r.MaxRetries
}
