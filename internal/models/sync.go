package models

import "time"

// SyncStatus описывает текущее состояние синхронизации.
// Единственный экземпляр на процесс: собирается оркестратором,
// читается любым наблюдателем.
type SyncStatus struct {
	LastSyncMs      int64 `json:"last_sync_ms"`      // LastSyncMs момент последнего успешного drain (unix ms)
	IsOnline        bool  `json:"is_online"`         // IsOnline текущее состояние связи
	PendingRequests int   `json:"pending_requests"`  // PendingRequests размер активной очереди
	SyncInProgress  bool  `json:"sync_in_progress"`  // SyncInProgress признак выполняющегося drain-цикла
	DeadLettered    int   `json:"dead_lettered"`     // DeadLettered запросы, отложенные для ручного разбора
}

// ConnectionStats описывает состояние постоянного соединения с сервисом
// уведомлений. Все поля, кроме ReconnectAttempts, обнуляются при каждом
// успешном подключении; ReconnectAttempts сбрасывается только успешным
// подключением.
type ConnectionStats struct {
	UptimeMs          int64     `json:"uptime_ms"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastHeartbeat     time.Time `json:"last_heartbeat"` // нулевое значение — heartbeat ещё не получен
	PendingMessages   int       `json:"pending_messages"`
}
