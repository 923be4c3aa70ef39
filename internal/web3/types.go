package web3

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ParaWallet-Chain/internal/errors"
)

// TransactionRequest is either a SimpleTransfer or a ContractCall.
type TransactionRequest interface {
	Destination() common.Address
	// Amount is the ether value as a decimal string; empty means zero.
	Amount() string
	// Gas is the explicit gas limit, zero when it should be estimated.
	Gas() uint64
	isTransactionRequest()
}

// SimpleTransfer moves native currency without calldata.
type SimpleTransfer struct {
	To       common.Address
	Value    string
	GasLimit uint64
}

func (t SimpleTransfer) Destination() common.Address { return t.To }
func (t SimpleTransfer) Amount() string              { return t.Value }
func (t SimpleTransfer) Gas() uint64                 { return t.GasLimit }
func (SimpleTransfer) isTransactionRequest()         {}

// ContractCall carries calldata and optionally a value.
type ContractCall struct {
	To       common.Address
	Value    string
	Data     []byte
	GasLimit uint64
}

func (c ContractCall) Destination() common.Address { return c.To }
func (c ContractCall) Amount() string              { return c.Value }
func (c ContractCall) Gas() uint64                 { return c.GasLimit }
func (ContractCall) isTransactionRequest()         {}

// RawTransaction is the loose payload accepted from agents and HTTP callers.
// Gas and GasLimit are synonyms; GasLimit wins when both are set.
type RawTransaction struct {
	To       string `json:"to"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	Gas      string `json:"gas,omitempty"`
}

// UnmarshalJSON accepts numbers as well as strings for value and gas fields.
func (r *RawTransaction) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return err
	}
	*r = RawTransactionFromMap(fields)
	return nil
}

// RawTransactionFromMap reads a transaction out of free-form content such as
// an agent message.
func RawTransactionFromMap(fields map[string]any) RawTransaction {
	return RawTransaction{
		To:       stringField(fields["to"]),
		Value:    stringField(fields["value"]),
		Data:     stringField(fields["data"]),
		GasLimit: stringField(fields["gasLimit"]),
		Gas:      stringField(fields["gas"]),
	}
}

func stringField(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// ClassifyTransaction validates a raw payload and turns it into a typed
// request. Non-empty calldata makes it a ContractCall.
func ClassifyTransaction(raw RawTransaction) (TransactionRequest, error) {
	to := strings.TrimSpace(raw.To)
	if !common.IsHexAddress(to) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid destination address %q", raw.To))
	}

	gasText := strings.TrimSpace(raw.GasLimit)
	if gasText == "" {
		gasText = strings.TrimSpace(raw.Gas)
	}
	gas, err := parseGas(gasText)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid gas limit")
	}

	data, err := parseCalldata(raw.Data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid calldata")
	}

	value := strings.TrimSpace(raw.Value)
	if len(data) > 0 {
		return ContractCall{To: common.HexToAddress(to), Value: value, Data: data, GasLimit: gas}, nil
	}
	return SimpleTransfer{To: common.HexToAddress(to), Value: value, GasLimit: gas}, nil
}

// Fingerprint digests the fields that define a request so a replayed
// idempotency key can be checked against the original. Values are compared in
// wei, so "1" and "1.0" match.
func Fingerprint(tx TransactionRequest) string {
	if tx == nil {
		return ""
	}
	value := strings.TrimSpace(tx.Amount())
	if wei, err := ParseEther(value); err == nil {
		value = wei.String()
	}
	var data []byte
	if call, ok := tx.(ContractCall); ok {
		data = call.Data
	}
	return crypto.Keccak256Hash(
		tx.Destination().Bytes(),
		[]byte(value),
		[]byte(strconv.FormatUint(tx.Gas(), 10)),
		data,
	).Hex()
}

func parseGas(text string) (uint64, error) {
	if text == "" {
		return 0, nil
	}
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		return hexutil.DecodeUint64("0x" + text[2:])
	}
	return strconv.ParseUint(text, 10, 64)
}

func parseCalldata(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(text, "0x") {
		text = "0x" + text
	}
	return hexutil.Decode(text)
}

// Receipt is the normalized confirmation of a mined transaction.
type Receipt struct {
	Status      string      `json:"status"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	TxHash      common.Hash `json:"transactionHash"`
}

const (
	ReceiptSuccess  = "success"
	ReceiptReverted = "reverted"
)

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptSuccess
}

// NewReceipt converts a go-ethereum receipt.
func NewReceipt(receipt *types.Receipt) Receipt {
	if receipt == nil {
		return Receipt{}
	}
	out := Receipt{
		Status:  ReceiptReverted,
		GasUsed: receipt.GasUsed,
		TxHash:  receipt.TxHash,
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = ReceiptSuccess
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out
}

// TransactionResult pairs the submitted hash with its confirmation.
type TransactionResult struct {
	Hash    common.Hash `json:"hash"`
	Receipt Receipt     `json:"receipt"`
}
