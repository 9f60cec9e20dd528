package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/store/memory"
)

type fakeProvider struct {
	quote domain.Quote
	err   error
	calls int
}

func (p *fakeProvider) GetQuote(_ context.Context, _, _, _, _ string) (domain.Quote, error) {
	p.calls++
	if p.err != nil {
		return domain.Quote{}, p.err
	}
	return p.quote, nil
}

func TestRequestQuoteStampsAndPersists(t *testing.T) {
	provider := &fakeProvider{quote: domain.Quote{
		FromToken:    "0xaaa",
		ToToken:      "0xbbb",
		InputAmount:  "1000000",
		OutputAmount: "995000",
		Routes:       []domain.Route{{Steps: []domain.RouteStep{swapLeg("0xaaa", "0xbbb")}, OutputAmount: "995000"}},
	}}
	store := memory.NewQuoteStore()
	svc := NewQuoteService(provider, store, discardLogger())

	quote, err := svc.RequestQuote(context.Background(), "0xaaa", "0xbbb", "1000000", "ethereum")
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if quote.ID == "" {
		t.Fatal("quote id not assigned")
	}
	if quote.Routes[0].ID != quote.ID+"-r0" {
		t.Fatalf("route id = %q, want derived from quote id", quote.Routes[0].ID)
	}
	if !quote.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry %s not in the future", quote.ExpiresAt)
	}

	stored, err := store.GetByID(context.Background(), quote.ID)
	if err != nil {
		t.Fatalf("quote not persisted: %v", err)
	}
	if stored.ExpiresAt.IsZero() {
		t.Fatal("persisted quote has no expiry")
	}
}

func TestRequestQuoteKeepsProviderExpiry(t *testing.T) {
	expires := time.Now().UTC().Add(90 * time.Second).Truncate(time.Second)
	provider := &fakeProvider{quote: domain.Quote{
		ID:        "prov-1",
		Routes:    []domain.Route{{ID: "prov-1-best", Steps: []domain.RouteStep{swapLeg("0xaaa", "0xbbb")}}},
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expires,
	}}
	svc := NewQuoteService(provider, memory.NewQuoteStore(), discardLogger())

	quote, err := svc.RequestQuote(context.Background(), "0xaaa", "0xbbb", "5", "ethereum")
	if err != nil {
		t.Fatalf("RequestQuote: %v", err)
	}
	if quote.ID != "prov-1" || !quote.ExpiresAt.Equal(expires) {
		t.Fatalf("provider identity overwritten: %+v", quote)
	}
	if quote.Routes[0].ID != "prov-1-best" {
		t.Fatalf("route id overwritten: %q", quote.Routes[0].ID)
	}
}

func TestRequestQuoteRejectsBadAmount(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewQuoteService(provider, memory.NewQuoteStore(), discardLogger())

	for _, amount := range []string{"", "abc", "-5", "0", "1.5"} {
		if _, err := svc.RequestQuote(context.Background(), "0xaaa", "0xbbb", amount, "ethereum"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("amount %q: err = %v, want ErrValidation", amount, err)
		}
	}
	if provider.calls != 0 {
		t.Fatalf("provider called %d times for invalid input", provider.calls)
	}
}

func TestRequestQuoteProviderDown(t *testing.T) {
	provider := &fakeProvider{err: domain.ErrProviderDown}
	svc := NewQuoteService(provider, memory.NewQuoteStore(), discardLogger())

	_, err := svc.RequestQuote(context.Background(), "0xaaa", "0xbbb", "1000", "ethereum")
	if !errors.Is(err, domain.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
}

func TestGetQuoteMissing(t *testing.T) {
	svc := NewQuoteService(&fakeProvider{}, memory.NewQuoteStore(), discardLogger())
	if _, err := svc.GetQuote(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
