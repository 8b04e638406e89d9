package chain

import (
	"context"
	"strings"
	"sync"
)

// FakeClient serves canned statuses keyed by tx hash. Unknown hashes are not found.
type FakeClient struct {
	mu       sync.Mutex
	statuses map[string]TxStatus
	errs     map[string]error
	calls    int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{statuses: map[string]TxStatus{}, errs: map[string]error{}}
}

func (f *FakeClient) Set(txHash string, status TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[strings.ToLower(txHash)] = status
}

func (f *FakeClient) Fail(txHash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[strings.ToLower(txHash)] = err
}

func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) TransactionStatus(_ context.Context, txHash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := strings.ToLower(txHash)
	if err, ok := f.errs[key]; ok {
		return TxStatus{}, err
	}
	if status, ok := f.statuses[key]; ok {
		return status, nil
	}
	return TxStatus{State: TxNotFound}, nil
}
