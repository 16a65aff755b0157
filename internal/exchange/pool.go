package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"tvtrader/pkg/retry"
	"tvtrader/pkg/utils"
)

// ErrNoCredentials - для биржи не настроены ключи
var ErrNoCredentials = errors.New("exchange credentials not configured")

// Account - настройки подключения одной биржи
type Account struct {
	Credentials Credentials
	Options     Options
}

// Pool держит по одному подключению на биржу на всё время жизни процесса.
//
// Первый Acquire создаёт клиента и загружает рынки; конкурентные вызовы
// для той же биржи ждут его результата. Неудачная инициализация
// не кешируется - следующий вызов попробует снова.
type Pool struct {
	factory  Factory
	accounts map[string]Account
	timeout  time.Duration
	attempts int

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool
}

type poolEntry struct {
	ready chan struct{}
	ex    Exchange
	err   error
}

// PoolConfig - параметры пула
type PoolConfig struct {
	// CallTimeout - таймаут одной попытки LoadMarkets
	CallTimeout time.Duration
	// Attempts - попыток LoadMarkets
	Attempts int
}

// NewPool создаёт пул. factory == nil означает DefaultFactory.
func NewPool(accounts map[string]Account, factory Factory, cfg PoolConfig) *Pool {
	if factory == nil {
		factory = DefaultFactory
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}

	norm := make(map[string]Account, len(accounts))
	for name, acc := range accounts {
		norm[strings.ToLower(name)] = acc
	}

	return &Pool{
		factory:  factory,
		accounts: norm,
		timeout:  cfg.CallTimeout,
		attempts: cfg.Attempts,
		entries:  make(map[string]*poolEntry),
	}
}

// Configured сообщает, есть ли для биржи ключи
func (p *Pool) Configured(name string) bool {
	acc, ok := p.accounts[strings.ToLower(name)]
	return ok && acc.Credentials.APIKey != ""
}

// Acquire возвращает готовое подключение к бирже с загруженными рынками
func (p *Pool) Acquire(ctx context.Context, name string) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !IsSupported(name) {
		return nil, errors.Errorf("unsupported exchange: %s", name)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("exchange pool is shut down")
	}
	entry, ok := p.entries[name]
	if !ok {
		entry = &poolEntry{ready: make(chan struct{})}
		p.entries[name] = entry
		p.mu.Unlock()

		entry.ex, entry.err = p.connect(ctx, name)
		if entry.err != nil {
			p.mu.Lock()
			delete(p.entries, name)
			p.mu.Unlock()
		}
		close(entry.ready)
		return entry.ex, entry.err
	}
	p.mu.Unlock()

	select {
	case <-entry.ready:
		return entry.ex, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) connect(ctx context.Context, name string) (Exchange, error) {
	acc, ok := p.accounts[name]
	if !ok || acc.Credentials.APIKey == "" {
		return nil, errors.Wrap(ErrNoCredentials, name)
	}

	ex, err := p.factory(name, acc.Credentials, acc.Options)
	if err != nil {
		return nil, errors.Wrap(err, "create exchange client")
	}

	err = retry.Do(ctx, ex.LoadMarkets, retry.ExchangeReadConfig(p.timeout, p.attempts))
	if err != nil {
		ex.Close()
		return nil, errors.Wrap(err, "load markets")
	}

	utils.L().Info("exchange connected",
		utils.Exchange(name),
		utils.Bool("testnet", acc.Credentials.Testnet),
	)
	return ex, nil
}

// Connected возвращает имена бирж с готовыми подключениями
func (p *Pool) Connected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.entries))
	for name, e := range p.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				names = append(names, name)
			}
		default:
		}
	}
	return names
}

// ShutdownAll закрывает все подключения. Повторный вызов безопасен.
func (p *Pool) ShutdownAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for name, e := range entries {
		<-e.ready
		if e.ex == nil {
			continue
		}
		if err := e.ex.Close(); err != nil {
			utils.L().Warn("exchange close failed", utils.Exchange(name), utils.Err(err))
		}
	}
}
