package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ParaWallet-Chain/internal/custody"
	"ParaWallet-Chain/internal/dispatch"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/events"
	"ParaWallet-Chain/internal/observability/metrics"
	"ParaWallet-Chain/internal/session"
	"ParaWallet-Chain/internal/signer"
	"ParaWallet-Chain/internal/storage"
	"ParaWallet-Chain/internal/wallet"
	"ParaWallet-Chain/internal/web3"
	"ParaWallet-Chain/internal/web3/provider"
	"ParaWallet-Chain/pkg/logger"
)

// 操作名，用于指标标签。
const (
	opCreateWallet       = "create_wallet"
	opCreatePregenWallet = "create_pregen_wallet"
	opListWallets        = "list_wallets"
	opSignMessage        = "sign_message"
	opSignTransaction    = "sign_transaction"
)

// defaultActivityLimit 是未指定条数时返回的活动记录数量。
const defaultActivityLimit = 50

// Service 是面向调用方的钱包门面，串联会话、钱包、签名与交易派发，
// 并在操作边界记录指标、活动日志与事件。
type Service struct {
	sessions  *session.Manager
	wallets   *wallet.Service
	signer    *signer.Service
	dispatch  *dispatch.Dispatcher
	journal   storage.ActivityRepository
	guard     storage.SubmissionGuard
	publisher events.Publisher
	log       *slog.Logger

	dispatchOpts []dispatch.Option
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithJournal 配置活动日志仓库。
func WithJournal(repo storage.ActivityRepository) Option {
	return func(s *Service) {
		s.journal = repo
	}
}

// WithSubmissionGuard 配置交易幂等表。
func WithSubmissionGuard(guard storage.SubmissionGuard) Option {
	return func(s *Service) {
		s.guard = guard
	}
}

// WithPublisher 配置事件发布器。
func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithDispatchOptions 透传交易派发器的配置，例如链注册表与拨号器。
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(s *Service) {
		s.dispatchOpts = append(s.dispatchOpts, opts...)
	}
}

// New 创建钱包门面。sessions 在 Start 之前处于未初始化状态。
func New(sessions *session.Manager, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		publisher: events.Noop{},
		log:       logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.wallets = wallet.NewService(sessions)
	s.signer = signer.NewService(sessions)
	s.dispatch = dispatch.New(sessions, s.dispatchOpts...)
	return s
}

// Start 建立托管会话。重复调用是安全的。
func (s *Service) Start(ctx context.Context, creds custody.Credentials) error {
	return s.sessions.Initialize(ctx, creds)
}

// KeepStarting 反复尝试建立会话，直到成功、ctx 结束或遇到不可重试的错误。
// 期间服务保持未初始化，调用方得到 NOT_INITIALIZED。
func (s *Service) KeepStarting(ctx context.Context, creds custody.Credentials, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := s.Start(ctx, creds)
		if err == nil || !xerrors.RetryableError(err) {
			return err
		}
		s.log.Warn("custody backend unavailable, retrying",
			slog.Duration("interval", interval),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Initialized 报告会话是否可用。
func (s *Service) Initialized() bool {
	return s.sessions.Initialized()
}

// Environment 返回当前会话的环境，未初始化时为空。
func (s *Service) Environment() custody.Environment {
	return s.sessions.Environment()
}

// Chains 返回可解析的链参数。
func (s *Service) Chains() []provider.ChainParams {
	return s.dispatch.Chains().Chains()
}

// CreateWallet 创建钱包，kind 为空时为 EVM。
func (s *Service) CreateWallet(ctx context.Context, kind custody.WalletKind) (custody.Wallet, error) {
	start := time.Now()
	created, err := s.wallets.CreateWallet(ctx, kind)
	s.observe(opCreateWallet, start, err)
	if err != nil {
		return custody.Wallet{}, err
	}

	record := storage.NewActivity(storage.ActivityWalletCreated, created.ID)
	record.Detail = string(created.Type)
	s.record(ctx, record)

	event := events.New(events.WalletCreated, created.ID)
	event.Attributes = map[string]string{"address": created.Address, "type": string(created.Type)}
	s.publish(ctx, event)
	return created, nil
}

// CreatePregenWallet 返回标识对应的预生成钱包，不存在时创建。
func (s *Service) CreatePregenWallet(ctx context.Context, id custody.PregenIdentifier) (wallet.PregenResult, error) {
	start := time.Now()
	result, err := s.wallets.CreatePregenWallet(ctx, id)
	s.observe(opCreatePregenWallet, start, err)
	if err != nil {
		return wallet.PregenResult{}, err
	}
	if !result.Created {
		return result, nil
	}

	record := storage.NewActivity(storage.ActivityPregenWallet, result.Wallet.ID)
	record.Detail = string(id.Normalize().Type)
	s.record(ctx, record)

	event := events.New(events.WalletCreated, result.Wallet.ID)
	event.Attributes = map[string]string{
		"address": result.Wallet.Address,
		"type":    string(result.Wallet.Type),
		"pregen":  "true",
	}
	s.publish(ctx, event)
	return result, nil
}

// ListWallets 返回会话可见的钱包，按 id 排序。
func (s *Service) ListWallets(ctx context.Context) ([]custody.Wallet, error) {
	start := time.Now()
	wallets, err := s.wallets.ListWallets(ctx)
	s.observe(opListWallets, start, err)
	return wallets, err
}

// SignMessage 使用钱包签名一段文本。
func (s *Service) SignMessage(ctx context.Context, walletID, message string) (string, error) {
	start := time.Now()
	signature, err := s.signer.SignMessage(ctx, walletID, message)
	s.observe(opSignMessage, start, err)
	if err != nil {
		return "", err
	}

	s.record(ctx, storage.NewActivity(storage.ActivityMessageSigned, strings.TrimSpace(walletID)))
	s.publish(ctx, events.New(events.MessageSigned, strings.TrimSpace(walletID)))
	return signature, nil
}

// CallOption 调整单次交易调用。
type CallOption func(*callOptions)

type callOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey 绑定调用方提供的幂等键。同一个键的重试会等待
// 已记录的交易，而不是重新广播。
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) {
		o.idempotencyKey = strings.TrimSpace(key)
	}
}

// SignTransaction 签名并提交交易，阻塞至交易上链。
func (s *Service) SignTransaction(ctx context.Context, walletID string, tx web3.TransactionRequest, chainID string, opts ...CallOption) (*web3.TransactionResult, error) {
	var call callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&call)
		}
	}
	walletID = strings.TrimSpace(walletID)
	chainID = strings.TrimSpace(chainID)

	start := time.Now()
	result, err := s.signTransaction(ctx, walletID, tx, chainID, call)
	s.observe(opSignTransaction, start, err)

	switch {
	case err != nil:
		record := storage.NewActivity(storage.ActivityTransactionFailed, walletID)
		record.ChainID = chainID
		record.Status = string(xerrors.CodeOf(err))
		if e, ok := xerrors.From(err); ok {
			record.TxHash = e.Metadata()[xerrors.MetaTxHash]
		}
		record.Detail = err.Error()
		s.record(ctx, record)

		event := events.New(events.TransactionFailed, walletID)
		event.ChainID = chainID
		event.TxHash = record.TxHash
		event.Status = record.Status
		s.publish(ctx, event)
		return nil, err
	default:
		kind := storage.ActivityTransactionConfirmed
		typ := events.TransactionConfirmed
		if !result.Receipt.Succeeded() {
			kind = storage.ActivityTransactionFailed
			typ = events.TransactionFailed
		}
		record := storage.NewActivity(kind, walletID)
		record.ChainID = chainID
		record.TxHash = result.Hash.Hex()
		record.Status = result.Receipt.Status
		s.record(ctx, record)

		event := events.New(typ, walletID)
		event.ChainID = chainID
		event.TxHash = record.TxHash
		event.Status = result.Receipt.Status
		s.publish(ctx, event)
		return result, nil
	}
}

func (s *Service) signTransaction(ctx context.Context, walletID string, tx web3.TransactionRequest, chainID string, call callOptions) (*web3.TransactionResult, error) {
	if _, err := s.sessions.Backend(); err != nil {
		return nil, err
	}
	if call.idempotencyKey == "" || s.guard == nil {
		return s.dispatch.SignTransactionNotify(ctx, walletID, tx, chainID, s.submitted(walletID, chainID, "", ""))
	}

	prior, found, err := s.guard.Lookup(ctx, call.idempotencyKey)
	if err != nil {
		// 幂等表不可用时拒绝提交，避免重复广播。
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lookup idempotency key", xerrors.WithWallet(walletID))
	}
	digest := web3.Fingerprint(tx)
	if found {
		if prior.WalletID != walletID || prior.ChainID != chainID || (prior.Digest != "" && prior.Digest != digest) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "idempotency key already used for another transaction",
				xerrors.WithWallet(walletID), xerrors.WithChain(chainID))
		}
		s.log.Info("idempotent retry, awaiting recorded transaction",
			slog.String("wallet_id", walletID),
			slog.String("chain_id", chainID),
			slog.String("tx_hash", prior.TxHash))
		return s.dispatch.AwaitReceipt(ctx, prior.ChainID, common.HexToHash(prior.TxHash))
	}
	return s.dispatch.SignTransactionNotify(ctx, walletID, tx, chainID, s.submitted(walletID, chainID, call.idempotencyKey, digest))
}

// submitted 返回派发器的广播回调：写入幂等表与活动日志。
func (s *Service) submitted(walletID, chainID, key, digest string) dispatch.SubmitFunc {
	return func(ctx context.Context, chain provider.ChainParams, hash common.Hash) {
		if key != "" && s.guard != nil {
			stored, err := s.guard.Record(ctx, key, storage.Submission{
				WalletID: walletID,
				ChainID:  chainID,
				TxHash:   hash.Hex(),
				Digest:   digest,
			})
			switch {
			case err != nil:
				s.log.Warn("record idempotency key failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
			case !stored:
				s.log.Warn("idempotency key recorded concurrently", slog.String("tx_hash", hash.Hex()))
			}
		}
		record := storage.NewActivity(storage.ActivityTransactionSubmitted, walletID)
		record.ChainID = chain.ID.String()
		record.TxHash = hash.Hex()
		s.record(ctx, record)
	}
}

// Activity 返回最近的活动记录。未配置日志仓库时返回空列表。
func (s *Service) Activity(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	if s.journal == nil {
		return []storage.ActivityRecord{}, nil
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	records, err := s.journal.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list activity")
	}
	return records, nil
}

// Status 汇总会话与钱包状态。
type Status struct {
	Initialized bool                   `json:"initialized"`
	Environment custody.Environment    `json:"environment,omitempty"`
	Wallets     []custody.Wallet       `json:"wallets"`
	Chains      []provider.ChainParams `json:"chains"`
}

// Status 返回当前状态。未初始化时不访问托管服务。
func (s *Service) Status(ctx context.Context) (Status, error) {
	status := Status{
		Initialized: s.Initialized(),
		Environment: s.Environment(),
		Wallets:     []custody.Wallet{},
		Chains:      s.Chains(),
	}
	if !status.Initialized {
		return status, nil
	}
	wallets, err := s.ListWallets(ctx)
	if err != nil {
		return status, err
	}
	status.Wallets = wallets
	return status, nil
}

// Close 释放会话与外部依赖。
func (s *Service) Close() error {
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.guard != nil {
		errs = append(errs, s.guard.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	errs = append(errs, s.sessions.Close())
	return stdErrors.Join(errs...)
}

func (s *Service) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(xerrors.CodeOf(err)))
		s.log.Warn("wallet operation failed",
			slog.String("operation", operation),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
	}
	metrics.ObserveOperation(operation, outcome, time.Since(start))
}

// record 与 publish 为尽力而为，失败只记日志。
func (s *Service) record(ctx context.Context, record storage.ActivityRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(ctx, record); err != nil {
		s.log.Warn("save activity failed",
			slog.String("kind", string(record.Kind)),
			slog.String("wallet_id", record.WalletID),
			slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("publish event failed",
			slog.String("type", string(event.Type)),
			slog.String("wallet_id", event.WalletID),
			slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "")))
	}
}
