package handler

import (
	"net/http"

	"github.com/campushub/internal/config"
)

// ConfigHandler отдаёт фронту публичные части конфигурации.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig возвращает публичный VAPID-ключ (пустой — пуши отключены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          h.cfg.PushServiceURL != "" && h.cfg.PushVAPIDPublicKey != "",
		"vapid_public_key": h.cfg.PushVAPIDPublicKey,
	})
}
