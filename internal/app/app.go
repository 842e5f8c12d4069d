// Package app 红包服务应用入口
//
// ========================================
// rbot 服务总览
// ========================================
//
// ## 依赖
// - PostgreSQL: re_status, snatch_status, wallets, users, global_vars, escrow_fundings, job_executions
// - Redis: 任务锁, contract 模式下的代理账户 nonce
// - Kafka: 红包事件, brokers 为空时不发布
// - 远端账本: memory (进程内) 或 contract (EVM 合约)
//
// ## 定时任务
// 1. pending-claims: 待定领取凭证对账
// 2. orphan-fundings: 托管后未登记的资金上报
// 3. stats-snapshot: 统计指标刷新
// 4. execution-cleanup: 任务执行记录清理
//
// ========================================
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kami1983/sl-runes-agent/internal/blockchain"
	"github.com/kami1983/sl-runes-agent/internal/config"
	"github.com/kami1983/sl-runes-agent/internal/event"
	"github.com/kami1983/sl-runes-agent/internal/handler"
	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/jobs"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/memo"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/router"
	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/internal/service"
	"github.com/kami1983/sl-runes-agent/internal/token"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// App 红包服务应用
type App struct {
	cfg *config.Config

	// 基础设施
	db          *gorm.DB
	redisClient redis.UniversalClient
	chain       *blockchain.Client
	producer    *event.Producer
	httpServer  *http.Server
	scheduler   *scheduler.Scheduler

	// 远端账本
	remote       ledger.Client
	tokenLedger  ledger.TokenLedger
	agentAddress string
	events       event.Publisher

	tokens   *token.Registry
	resolver identity.Resolver
	cipher   *memo.Cipher

	// 仓储层
	envelopeRepo repository.EnvelopeRepository
	ticketRepo   repository.ClaimTicketRepository
	walletRepo   repository.WalletRepository
	userRepo     repository.UserRepository
	globalRepo   repository.GlobalVarRepository
	fundingRepo  repository.FundingRepository
	execRepo     *repository.ExecutionRepository

	// 服务层
	escrowService    *service.EscrowService
	envelopeService  *service.EnvelopeService
	claimService     *service.ClaimService
	statusService    *service.StatusService
	statsService     *service.StatsService
	globalVarService *service.GlobalVarService
	userService      *service.UserService

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run 启动应用
func (a *App) Run() error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	if err := a.initRedis(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}

	if err := a.initTokens(); err != nil {
		return fmt.Errorf("failed to init tokens: %w", err)
	}

	if err := a.initLedger(); err != nil {
		return fmt.Errorf("failed to init ledger: %w", err)
	}

	if err := a.initEvents(); err != nil {
		return fmt.Errorf("failed to init events: %w", err)
	}

	a.initRepositories()

	if err := a.initServices(); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}

	a.initScheduler()
	if err := a.registerJobs(); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	a.scheduler.Start()

	a.startHTTP()
	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down rbot service...")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("close kafka producer error", zap.Error(err))
		}
	}

	if a.chain != nil {
		a.chain.Close()
	}

	if a.redisClient != nil {
		a.redisClient.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	a.cancel()
	logger.Info("rbot service stopped")
	return nil
}

// initDB 初始化数据库
func (a *App) initDB() error {
	pg := a.cfg.Postgres
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pg.MaxConnections)
	sqlDB.SetMaxIdleConns(pg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pg.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", pg.Host),
		zap.String("database", pg.Database))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")
	return nil
}

// initRedis 初始化 Redis; 未配置地址时跳过, 任务不加锁
func (a *App) initRedis() error {
	addrs := make([]string, 0, len(a.cfg.Redis.Addresses))
	for _, addr := range a.cfg.Redis.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		logger.Warn("redis not configured, jobs run without distributed lock")
		return nil
	}

	a.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	logger.Info("redis connected",
		zap.Strings("addresses", addrs),
		zap.Int("db", a.cfg.Redis.DB))
	return nil
}

// initTokens 合并环境变量代币表与配置中的红包参数
func (a *App) initTokens() error {
	table, err := config.LoadTokenTable()
	if err != nil {
		return err
	}
	a.tokens, err = config.BuildTokenRegistry(table, a.cfg.Tokens)
	if err != nil {
		return err
	}
	a.resolver = identity.NewSaltedResolver(a.cfg.Ledger.IdentitySalt)
	a.cipher, err = memo.NewCipher(a.cfg.Memo.Key, a.cfg.Memo.IV)
	if err != nil {
		return err
	}

	logger.Info("tokens loaded", zap.Strings("symbols", a.tokens.Symbols()))
	return nil
}

// initLedger 按模式创建远端账本
func (a *App) initLedger() error {
	lc := a.cfg.Ledger
	switch lc.Mode {
	case config.LedgerModeMemory:
		mem := ledger.NewMemory(ledger.WithAgents(lc.AgentAccounts...))
		for _, tok := range a.tokens.All() {
			mem.SetFee(tok.ContractID, decimal.NewFromInt(lc.TransferFee))
		}
		a.remote = mem
		a.tokenLedger = mem
		for _, acc := range lc.AgentAccounts {
			if acc != "" {
				a.agentAddress = acc
				break
			}
		}
		logger.Warn("using in-process memory ledger, balances are not persisted")

	case config.LedgerModeContract:
		if a.redisClient == nil {
			return stderrors.New("contract mode requires redis for nonce management")
		}
		chain, err := blockchain.NewClient(a.ctx, &blockchain.ClientConfig{
			ChainID:       lc.ChainID,
			PrivateKey:    lc.AgentPrivateKey,
			RPCURLs:       append([]string{lc.RPCURL}, lc.BackupRPCURLs...),
			MaxRetries:    lc.MaxRetries,
			RetryInterval: time.Second,
		})
		if err != nil {
			return err
		}
		a.chain = chain

		nonces := blockchain.NewNonceManager(chain, a.redisClient, &blockchain.NonceManagerConfig{
			Wallet:  chain.Address(),
			ChainID: lc.ChainID,
		})
		contract, err := ledger.NewContractClient(chain, nonces, &ledger.ContractConfig{
			EnvelopeContract: lc.EnvelopeContract,
			TransferFee:      decimal.NewFromInt(lc.TransferFee),
			CallTimeout:      time.Duration(lc.CallTimeout) * time.Second,
		})
		if err != nil {
			return err
		}
		a.remote = contract
		a.tokenLedger = contract
		a.agentAddress = chain.Address().Hex()

	default:
		return fmt.Errorf("unknown ledger mode %q", lc.Mode)
	}

	logger.Info("ledger initialized",
		zap.String("mode", lc.Mode),
		zap.String("agent", a.agentAddress))
	return nil
}

// initEvents 初始化事件发布
func (a *App) initEvents() error {
	if !a.cfg.Kafka.Enabled() {
		a.events = event.NoopPublisher{}
		logger.Info("kafka not configured, events disabled")
		return nil
	}

	producer, err := event.NewProducer(&event.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	a.producer = producer
	a.events = producer
	logger.Info("kafka producer connected", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initRepositories 初始化仓储层
func (a *App) initRepositories() {
	a.envelopeRepo = repository.NewEnvelopeRepository(a.db)
	a.ticketRepo = repository.NewClaimTicketRepository(a.db)
	a.walletRepo = repository.NewWalletRepository(a.db)
	a.userRepo = repository.NewUserRepository(a.db)
	a.globalRepo = repository.NewGlobalVarRepository(a.db)
	a.fundingRepo = repository.NewFundingRepository(a.db)
	a.execRepo = repository.NewExecutionRepository(a.db)

	logger.Info("repositories initialized")
}

// initServices 初始化服务层
func (a *App) initServices() error {
	escrowAddress := a.cfg.Ledger.EscrowAddress
	if escrowAddress == "" {
		escrowAddress = a.agentAddress
	}
	if escrowAddress == "" {
		return stderrors.New("escrow address is not configured")
	}

	a.escrowService = service.NewEscrowService(a.tokenLedger, a.fundingRepo, a.resolver, a.events, &service.EscrowServiceConfig{
		EscrowAddress: escrowAddress,
		MaxAmount:     a.cfg.Envelope.MaxAmount,
		MaxShareCount: a.cfg.Envelope.MaxShareCount,
	})
	a.envelopeService = service.NewEnvelopeService(
		a.remote, a.envelopeRepo, a.escrowService, a.tokens, a.cipher, a.resolver, a.events,
		&service.EnvelopeServiceConfig{
			DefaultExpireDays: a.cfg.Envelope.DefaultExpireDays,
			AgentAddress:      a.agentAddress,
		},
	)
	a.claimService = service.NewClaimService(a.remote, a.ticketRepo, a.walletRepo, a.envelopeRepo, a.tokens, a.resolver, a.events)
	a.statusService = service.NewStatusService(a.remote, a.envelopeRepo, a.ticketRepo, a.tokens, a.resolver)
	a.statsService = service.NewStatsService(a.envelopeRepo, a.ticketRepo, a.walletRepo, a.fundingRepo)
	a.globalVarService = service.NewGlobalVarService(a.globalRepo)
	a.userService = service.NewUserService(a.userRepo)

	logger.Info("services initialized", zap.String("escrow", escrowAddress))
	return nil
}

// initScheduler 初始化调度器
func (a *App) initScheduler() {
	a.scheduler = scheduler.NewScheduler(
		&scheduler.SchedulerConfig{
			MaxConcurrentJobs: a.cfg.Jobs.MaxConcurrent,
			RedisClient:       a.redisClient,
		},
		a.execRepo,
	)
	logger.Info("scheduler initialized", zap.Int("max_concurrent_jobs", a.cfg.Jobs.MaxConcurrent))
}

// registerJobs 注册全部任务; jobs.enabled 为 false 时只登记, 可手动触发
func (a *App) registerJobs() error {
	jc := a.cfg.Jobs
	entries := []struct {
		job  scheduler.Job
		cron string
	}{
		{
			job:  jobs.NewPendingClaimsJob(a.claimService, time.Duration(jc.PendingClaimsGrace)*time.Second, jc.PendingClaimsBatch),
			cron: jc.PendingClaimsCron,
		},
		{
			job:  jobs.NewOrphanFundingsJob(a.escrowService, time.Duration(jc.OrphanFundingsGrace)*time.Second),
			cron: jc.OrphanFundingsCron,
		},
		{
			job:  jobs.NewStatsSnapshotJob(a.statsService),
			cron: jc.StatsSnapshotCron,
		},
		{
			job:  jobs.NewExecutionCleanupJob(a.execRepo, jc.ExecutionRetention),
			cron: jc.ExecutionCleanupCron,
		},
	}

	for _, e := range entries {
		if err := a.scheduler.RegisterJob(e.job, scheduler.JobConfig{Cron: e.cron, Enabled: jc.Enabled}); err != nil {
			return err
		}
	}
	logger.Info("jobs registered", zap.Int("count", len(entries)), zap.Bool("enabled", jc.Enabled))
	return nil
}

// startHTTP 启动 HTTP 服务
func (a *App) startHTTP() {
	if a.cfg.Service.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.New(&router.Handlers{
		Envelope: handler.NewEnvelopeHandler(a.envelopeService, a.escrowService, a.tokens),
		Claim:    handler.NewClaimHandler(a.claimService),
		Status:   handler.NewStatusHandler(a.statusService, a.statsService),
		Global:   handler.NewGlobalHandler(a.globalVarService, a.envelopeService),
		Jobs:     handler.NewJobsHandler(a.scheduler, a.execRepo),
	}, a.userService, a.cfg.Service.CORSOrigins...)

	addr := fmt.Sprintf(":%d", a.cfg.Service.HTTPPort)
	a.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting HTTP server",
		zap.String("addr", addr),
		zap.String("service", a.cfg.Service.Name))

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// GetScheduler 获取调度器
func (a *App) GetScheduler() *scheduler.Scheduler {
	return a.scheduler
}
