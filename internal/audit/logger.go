// Package audit records money and asset movements as structured log entries.
package audit

import (
	"go.uber.org/zap"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.L()
	}
	return &Logger{log: log.Named("audit")}
}

// LogTransfer records value moving between two accounts.
func (a *Logger) LogTransfer(reference, from, to string, amount int64, status string) {
	a.log.Info("TRANSFER",
		zap.String("reference", reference),
		zap.String("from_account", from),
		zap.String("to_account", to),
		zap.Int64("amount", amount),
		zap.String("status", status),
	)
}

// LogAsset records a token changing hands.
func (a *Logger) LogAsset(reference, collection string, tokenID uint64, from, to string) {
	a.log.Info("ASSET_TRANSFER",
		zap.String("reference", reference),
		zap.String("collection", collection),
		zap.Uint64("token_id", tokenID),
		zap.String("from_account", from),
		zap.String("to_account", to),
		zap.String("status", StatusSuccess),
	)
}

func (a *Logger) LogError(reference, account string, err error) {
	a.log.Error("ERROR",
		zap.String("reference", reference),
		zap.String("account", account),
		zap.String("status", StatusFailed),
		zap.Error(err),
	)
}

func (a *Logger) LogOperation(reference, account, operation, details string) {
	a.log.Info(operation,
		zap.String("reference", reference),
		zap.String("account", account),
		zap.String("status", StatusSuccess),
		zap.String("details", details),
	)
}
