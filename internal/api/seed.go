package api

import (
	"context"
	"log/slog"

	"gianconstruction/internal/model"
)

// SeedAdmin 按配置创建初始管理员。admin.email 为空时跳过。
func (s *Server) SeedAdmin(ctx context.Context) error {
	cfg := s.cfg.Admin
	if cfg.Email == "" {
		return nil
	}
	acc, err := s.accounts.SeedAdmin(ctx, model.Profile{
		Email:         cfg.Email,
		FirstName:     cfg.FirstName,
		LastName:      cfg.LastName,
		ContactNumber: "-",
	}, cfg.Password)
	if err != nil {
		return err
	}
	s.logger.Info("admin account ready",
		slog.String("email", acc.Email),
		slog.String("account_id", acc.AccountID),
	)
	return nil
}
