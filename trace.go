package solcov

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/thoas/go-funk"
)

// TraceClient fetches per-opcode execution traces from a node's debug
// API. It only requests the pc and opcode columns; memory, stack and
// storage capture is disabled since the coverage engine ignores them.
type TraceClient struct {
	client *rpc.Client
}

func NewTraceClient(client *rpc.Client) *TraceClient {
	return &TraceClient{client: client}
}

// DialTraceClient connects a TraceClient to the node at url.
func DialTraceClient(url string) (*TraceClient, error) {
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, err
	}
	return NewTraceClient(client), nil
}

func (tc *TraceClient) Close() {
	tc.client.Close()
}

type structLog struct {
	Pc uint64 `json:"pc"`
	Op string `json:"op"`
}

type traceTransactionResult struct {
	StructLogs []structLog `json:"structLogs"`
}

// TransactionTrace returns the ordered {pc, op} samples of one
// transaction's execution. Steps come back unattributed; use
// AttributeTrace once the executing contract is known.
func (tc *TraceClient) TransactionTrace(ctx context.Context, txHash common.Hash) ([]TraceStep, error) {
	var result traceTransactionResult
	err := tc.client.CallContext(ctx, &result, "debug_traceTransaction", txHash, map[string]interface{}{
		"disableMemory":  true,
		"disableStack":   true,
		"disableStorage": true,
	})
	if err != nil {
		return nil, err
	}

	steps := funk.Map(result.StructLogs, func(log structLog) TraceStep {
		return TraceStep{Pc: int(log.Pc), Op: log.Op}
	}).([]TraceStep)
	return steps, nil
}

// AttributeTrace returns a copy of steps with every sample attributed
// to the named contract.
func AttributeTrace(steps []TraceStep, contractName string) []TraceStep {
	attributed := make([]TraceStep, len(steps))
	for i, step := range steps {
		step.ContractName = contractName
		attributed[i] = step
	}
	return attributed
}
