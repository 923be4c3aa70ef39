package dispatch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"ParaWallet-Chain/internal/custody"
	"ParaWallet-Chain/internal/custody/custodytest"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/session"
	"ParaWallet-Chain/internal/web3"
	"ParaWallet-Chain/internal/web3/ethereum"
	"ParaWallet-Chain/internal/web3/provider"
)

const recipient = "0x4444444444444444444444444444444444444444"

type sentCall struct {
	chain provider.ChainParams
	to    common.Address
	value *big.Int
	data  []byte
	gas   uint64
	tx    *coretypes.Transaction
}

type fakeChain struct {
	mu         sync.Mutex
	writes     int
	reads      int
	sent       []sentCall
	sendErr    error
	receiptErr error
	status     uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{status: coretypes.ReceiptStatusSuccessful}
}

func (f *fakeChain) DialWriter(_ context.Context, chain provider.ChainParams) (ChainWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return &fakeWriter{chain: f, params: chain}, nil
}

func (f *fakeChain) DialReader(context.Context, provider.ChainParams) (ChainReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return &fakeReader{chain: f}, nil
}

func (f *fakeChain) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes + f.reads
}

type fakeWriter struct {
	chain  *fakeChain
	params provider.ChainParams
}

func (w *fakeWriter) Send(_ context.Context, opts *bind.TransactOpts, to common.Address, value *big.Int, data []byte, gas uint64) (*coretypes.Transaction, error) {
	if w.chain.sendErr != nil {
		return nil, w.chain.sendErr
	}
	if gas == 0 {
		gas = 21000
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   w.params.ID,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := opts.Signer(opts.From, tx)
	if err != nil {
		return nil, err
	}
	w.chain.mu.Lock()
	w.chain.sent = append(w.chain.sent, sentCall{chain: w.params, to: to, value: value, data: data, gas: gas, tx: signed})
	w.chain.mu.Unlock()
	return signed, nil
}

func (w *fakeWriter) Close() {}

type fakeReader struct {
	chain *fakeChain
}

func (r *fakeReader) WaitForReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if r.chain.receiptErr != nil {
		return nil, r.chain.receiptErr
	}
	return &coretypes.Receipt{
		Status:      r.chain.status,
		BlockNumber: big.NewInt(12345678),
		GasUsed:     21000,
		TxHash:      hash,
	}, nil
}

func (r *fakeReader) Close() {}

func readySession(t *testing.T, backend custody.Backend) *session.Manager {
	t.Helper()
	mgr := session.NewManager(func(context.Context, custody.Credentials) (custody.Backend, error) {
		return backend, nil
	})
	if err := mgr.Initialize(context.Background(), custody.Credentials{APIKey: "k"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return mgr
}

func TestSignTransactionBeforeInitialize(t *testing.T) {
	fake := custodytest.New()
	chain := newFakeChain()
	mgr := session.NewManager(func(context.Context, custody.Credentials) (custody.Backend, error) {
		return fake, nil
	})
	d := New(mgr, WithDialer(chain))

	_, err := d.SignTransaction(context.Background(), "w", web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "1")
	if !xerrors.HasCode(err, xerrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
	if fake.TotalCalls() != 0 || chain.dials() != 0 {
		t.Fatalf("no backend or chain calls expected")
	}
}

func TestUnknownWalletFailsBeforeDial(t *testing.T) {
	chain := newFakeChain()
	d := New(readySession(t, custodytest.New()), WithDialer(chain))

	_, err := d.SignTransaction(context.Background(), "ghost", web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "137")
	if !xerrors.HasCode(err, xerrors.CodeWalletNotFound) {
		t.Fatalf("expected WALLET_NOT_FOUND, got %v", err)
	}
	if chain.dials() != 0 {
		t.Fatalf("chain must not be dialed for unknown wallets")
	}
}

func TestRoutesContractCallsAndTransfers(t *testing.T) {
	fake := custodytest.New()
	w, _ := fake.CreateWallet(context.Background(), custody.WalletEVM)
	chain := newFakeChain()
	d := New(readySession(t, fake), WithDialer(chain))
	ctx := context.Background()

	call := web3.ContractCall{To: common.HexToAddress(recipient), Data: []byte{0xa9, 0x05, 0x9c, 0xbb}, GasLimit: 60000}
	res, err := d.SignTransaction(ctx, w.ID, call, "137")
	if err != nil {
		t.Fatalf("contract call: %v", err)
	}
	if res.Receipt.Status != web3.ReceiptSuccess || res.Receipt.BlockNumber != 12345678 || res.Hash == (common.Hash{}) {
		t.Fatalf("unexpected result %+v", res)
	}

	transfer := web3.SimpleTransfer{To: common.HexToAddress(recipient), Value: "0.01"}
	res2, err := d.SignTransaction(ctx, w.ID, transfer, "137")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res2.Hash == res.Hash {
		t.Fatalf("transactions should differ")
	}

	if len(chain.sent) != 2 {
		t.Fatalf("expected two submissions, got %d", len(chain.sent))
	}
	first, second := chain.sent[0], chain.sent[1]
	if len(first.data) != 4 || first.gas != 60000 || first.value.Sign() != 0 {
		t.Fatalf("contract call routed wrong: %+v", first)
	}
	if len(second.data) != 0 || second.value.String() != "10000000000000000" {
		t.Fatalf("transfer routed wrong: %+v", second)
	}
	if first.chain.Key != "polygon" {
		t.Fatalf("expected polygon, got %s", first.chain.Key)
	}

	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(big.NewInt(137)), second.tx)
	if err != nil || sender != common.HexToAddress(w.Address) {
		t.Fatalf("transaction should be signed by the wallet, got %s (%v)", sender.Hex(), err)
	}
}

func TestUnknownChainUsesMainnet(t *testing.T) {
	fake := custodytest.New()
	w, _ := fake.CreateWallet(context.Background(), custody.WalletEVM)
	chain := newFakeChain()
	d := New(readySession(t, fake), WithDialer(chain))

	if _, err := d.SignTransaction(context.Background(), w.ID, web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "99999"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := chain.sent[0].chain; got.Key != "mainnet" || got.ID.Int64() != 1 {
		t.Fatalf("expected mainnet fallback, got %+v", got)
	}
}

func TestFailuresAreWrappedWithContext(t *testing.T) {
	fake := custodytest.New()
	w, _ := fake.CreateWallet(context.Background(), custody.WalletEVM)
	chain := newFakeChain()
	chain.sendErr = errors.New("insufficient funds")
	d := New(readySession(t, fake), WithDialer(chain))

	_, err := d.SignTransaction(context.Background(), w.ID, web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "1")
	if !xerrors.HasCode(err, xerrors.CodeTransactionSigning) || !errors.Is(err, chain.sendErr) {
		t.Fatalf("expected TRANSACTION_SIGNING_FAILED, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()[xerrors.MetaWalletID] != w.ID || e.Metadata()[xerrors.MetaChainID] != "1" {
		t.Fatalf("missing metadata %+v", e.Metadata())
	}

	chain.sendErr = nil
	chain.receiptErr = errors.New("receipt lookup failed")
	_, err = d.SignTransaction(context.Background(), w.ID, web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "1")
	e, _ = xerrors.From(err)
	if e == nil || e.Metadata()[xerrors.MetaTxHash] == "" {
		t.Fatalf("receipt failures should carry the tx hash, got %v", err)
	}

	_, err = d.SignTransaction(context.Background(), w.ID, web3.SimpleTransfer{To: common.HexToAddress(recipient), Value: "0.0000000000000000001"}, "1")
	if !xerrors.HasCode(err, xerrors.CodeTransactionSigning) {
		t.Fatalf("value parse errors should be TRANSACTION_SIGNING_FAILED, got %v", err)
	}
}

func TestRevertedReceiptIsReturned(t *testing.T) {
	fake := custodytest.New()
	w, _ := fake.CreateWallet(context.Background(), custody.WalletEVM)
	chain := newFakeChain()
	chain.status = coretypes.ReceiptStatusFailed
	d := New(readySession(t, fake), WithDialer(chain))

	res, err := d.SignTransaction(context.Background(), w.ID, web3.ContractCall{To: common.HexToAddress(recipient), Data: []byte{1}}, "1")
	if err != nil {
		t.Fatalf("reverted transactions are still results: %v", err)
	}
	if res.Receipt.Status != web3.ReceiptReverted {
		t.Fatalf("expected reverted, got %s", res.Receipt.Status)
	}

	again, err := d.AwaitReceipt(context.Background(), "1", res.Hash)
	if err != nil || again.Hash != res.Hash {
		t.Fatalf("await receipt: %+v, %v", again, err)
	}
}

func TestSubmitHookSeesHashBeforeReceipt(t *testing.T) {
	fake := custodytest.New()
	w, _ := fake.CreateWallet(context.Background(), custody.WalletEVM)
	chain := newFakeChain()
	chain.receiptErr = errors.New("node went away")
	d := New(readySession(t, fake), WithDialer(chain))

	var seen common.Hash
	var seenChain string
	_, err := d.SignTransactionNotify(context.Background(), w.ID, web3.SimpleTransfer{To: common.HexToAddress(recipient)}, "42161",
		func(_ context.Context, params provider.ChainParams, hash common.Hash) {
			seen = hash
			seenChain = params.Key
		})
	if err == nil {
		t.Fatalf("expected receipt failure")
	}
	if seen == (common.Hash{}) || seenChain != "arbitrum" {
		t.Fatalf("hook not called before the wait: %s %q", seen.Hex(), seenChain)
	}
	if seen != chain.sent[0].tx.Hash() {
		t.Fatalf("hook saw a different hash")
	}
}

// committingWriter mines a block after each submission so the simulated
// chain produces receipts.
type committingWriter struct {
	*ethereum.Writer
	sim *simulated.Backend
}

func (w committingWriter) Send(ctx context.Context, opts *bind.TransactOpts, to common.Address, value *big.Int, data []byte, gas uint64) (*coretypes.Transaction, error) {
	tx, err := w.Writer.Send(ctx, opts, to, value, data, gas)
	if err == nil {
		w.sim.Commit()
	}
	return tx, err
}

type simulatedDialer struct {
	sim *simulated.Backend
}

func (d simulatedDialer) DialWriter(_ context.Context, chain provider.ChainParams) (ChainWriter, error) {
	return committingWriter{Writer: ethereum.NewWriter(chain.ID, d.sim.Client()), sim: d.sim}, nil
}

func (d simulatedDialer) DialReader(context.Context, provider.ChainParams) (ChainReader, error) {
	return ethereum.NewReader(d.sim.Client(), 10*time.Millisecond), nil
}

func TestEndToEndOnSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fake := custodytest.New()
	w, err := fake.CreateWallet(ctx, custody.WalletEVM)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	ether := big.NewInt(1_000_000_000_000_000_000)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		common.HexToAddress(w.Address): {Balance: new(big.Int).Mul(ether, big.NewInt(5))},
	})
	t.Cleanup(func() { _ = sim.Close() })

	reg, err := provider.NewRegistry(web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{
		"1337": {Key: "dev", Name: "Dev", RPCURL: "simulated://", CurrencySymbol: "ETH", Decimals: 18},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	d := New(readySession(t, fake), WithRegistry(reg), WithDialer(simulatedDialer{sim: sim}))
	raw := web3.RawTransaction{To: recipient, Value: "1.5"}
	req, err := web3.ClassifyTransaction(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	res, err := d.SignTransaction(ctx, w.ID, req, "1337")
	if err != nil {
		t.Fatalf("sign transaction: %v", err)
	}
	if !res.Receipt.Succeeded() || res.Receipt.TxHash != res.Hash || res.Receipt.BlockNumber == 0 {
		t.Fatalf("unexpected receipt %+v", res.Receipt)
	}

	balance, err := sim.Client().BalanceAt(ctx, common.HexToAddress(recipient), nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	want, _ := web3.ParseEther("1.5")
	if balance.Cmp(want) != 0 {
		t.Fatalf("recipient balance %s, want %s", balance, want)
	}
}
