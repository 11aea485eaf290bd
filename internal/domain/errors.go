package domain

import "errors"

var (
	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable внешний сервис (оракул, биржа) недоступен после всех повторов
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedOracleResponse ответ оракула не удалось разобрать
	ErrMalformedOracleResponse = errors.New("malformed oracle response")

	// ErrTurnLimitExceeded диалог с оракулом превысил лимит ходов
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")

	// ErrRiskRejected предложение отклонено риск-гейтом. Это штатный исход, не сбой.
	ErrRiskRejected = errors.New("rejected by risk gate")

	// ErrChainIntegrity цепочка аудита повреждена
	ErrChainIntegrity = errors.New("audit chain integrity violation")

	// ErrAuditWrite запись в журнал аудита невозможна. Единственная фатальная ошибка.
	ErrAuditWrite = errors.New("audit log is not writable")

	// ErrKillSwitchActive активирован аварийный останов
	ErrKillSwitchActive = errors.New("kill switch is active")

	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")
)
