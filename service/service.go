package service

import (
	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/notify"
	"dispatchbot/storage"
)

type IServiceManager interface {
	Dispatch() DispatchService
	Ledger() LedgerService
}

type serviceManager struct {
	dispatch DispatchService
	ledger   LedgerService
}

func New(stg storage.IStorage, gw notify.Gateway, cfg config.Config, log logger.ILogger) IServiceManager {
	ledger := NewLedgerService(stg, cfg, log)
	return &serviceManager{
		dispatch: NewDispatchService(stg, ledger, gw, cfg, log),
		ledger:   ledger,
	}
}

func (m *serviceManager) Dispatch() DispatchService { return m.dispatch }
func (m *serviceManager) Ledger() LedgerService     { return m.ledger }
