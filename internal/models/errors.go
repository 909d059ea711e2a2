package models

import "errors"

var (
	ErrAuthenticationRequired  = errors.New("требуется авторизация")
	ErrDailyLimitExceeded      = errors.New("превышен дневной лимит запросов")
	ErrHourlyCostLimitExceeded = errors.New("превышен часовой лимит расходов")
	ErrConfiguration           = errors.New("ошибка конфигурации модели")
	ErrStreamTransport         = errors.New("ошибка соединения с провайдером")
	ErrStreamTimeout           = errors.New("превышено время ожидания ответа провайдера")
	ErrPersistence             = errors.New("не удалось сохранить сообщение")
	ErrConversationNotFound    = errors.New("диалог не найден")
)
