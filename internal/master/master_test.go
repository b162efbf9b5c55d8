package master

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

type fakeSender struct {
	sent []wire.Type
	fail bool
}

func (f *fakeSender) SendToMaster(t wire.Type, payload interface{}) error {
	f.sent = append(f.sent, t)
	if f.fail {
		return errs.New(errs.Internal, "send failed")
	}
	return nil
}

func newTestClient() (*Client, *fakeSender) {
	s := &fakeSender{}
	return NewClient(s, hclog.NewNullLogger()), s
}

func TestFIFOResolutionOrder(t *testing.T) {
	c, _ := newTestClient()

	f1 := c.RequestNewAddress()
	f2 := c.RequestNewAddress()
	f3 := c.RequestNewAddress()

	if err := c.OnIDResponse("X1"); err != nil {
		t.Fatalf("OnIDResponse 1: %v", err)
	}
	if err := c.OnIDResponse("X2"); err != nil {
		t.Fatalf("OnIDResponse 2: %v", err)
	}
	if err := c.OnIDResponse("X3"); err != nil {
		t.Fatalf("OnIDResponse 3: %v", err)
	}

	ctx := context.Background()
	v1, err := f1.Wait(ctx)
	if err != nil || v1 != "X1" {
		t.Fatalf("expected first caller to get X1, got %q err=%v", v1, err)
	}
	v2, err := f2.Wait(ctx)
	if err != nil || v2 != "X2" {
		t.Fatalf("expected second caller to get X2, got %q err=%v", v2, err)
	}
	v3, err := f3.Wait(ctx)
	if err != nil || v3 != "X3" {
		t.Fatalf("expected third caller to get X3, got %q err=%v", v3, err)
	}
}

func TestOnLinkDownFailsAllPendingWithMasterUnavailable(t *testing.T) {
	c, _ := newTestClient()
	f1 := c.RequestNewAddress()
	f2 := c.RequestNewAddress()

	c.OnLinkDown()

	ctx := context.Background()
	if _, err := f1.Wait(ctx); !errs.Is(err, errs.MasterUnavailable) {
		t.Fatalf("expected MasterUnavailable, got %v", err)
	}
	if _, err := f2.Wait(ctx); !errs.Is(err, errs.MasterUnavailable) {
		t.Fatalf("expected MasterUnavailable, got %v", err)
	}
}

func TestShutdownCancelsPending(t *testing.T) {
	c, _ := newTestClient()
	f := c.RequestNewAddress()
	c.Shutdown(context.Background())

	if _, err := f.Wait(context.Background()); !errs.Is(err, errs.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestOnIDResponseWithNoPendingIsInternalError(t *testing.T) {
	c, _ := newTestClient()
	err := c.OnIDResponse("X1")
	if !errs.Is(err, errs.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
}
