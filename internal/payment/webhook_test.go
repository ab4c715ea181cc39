package payment

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func signedHeader(payload []byte, ts int64, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(payload, ts, secret))
}

func TestConstructEvent_OK(t *testing.T) {
	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"amount_total": 1000,
			"metadata": {"1": "3"},
			"shipping_details": {"address": {
				"city": "Warszawa",
				"country": "PL",
				"line1": "ul. Prosta 1",
				"line2": null,
				"postal_code": "00-001"
			}}
		}}
	}`)

	ts := time.Now().Unix()
	event, err := ConstructEvent(payload, signedHeader(payload, ts, testSecret), testSecret)
	if err != nil {
		t.Fatalf("ConstructEvent error: %v", err)
	}

	if event.Type != EventCheckoutCompleted {
		t.Fatalf("type = %q, want %q", event.Type, EventCheckoutCompleted)
	}
	obj := event.Data.Object
	if obj.AmountTotal != 1000 {
		t.Fatalf("amount_total = %d, want 1000", obj.AmountTotal)
	}
	if obj.Metadata["1"] != "3" {
		t.Fatalf("unexpected metadata: %+v", obj.Metadata)
	}
	if obj.ShippingDetails.Address.Line2 != "" {
		t.Fatalf("line2 = %q, want empty default", obj.ShippingDetails.Address.Line2)
	}
	if obj.ShippingDetails.Address.City != "Warszawa" {
		t.Fatalf("city = %q, want Warszawa", obj.ShippingDetails.Address.City)
	}
}

func TestConstructEvent_BadSignature(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	ts := time.Now().Unix()

	header := signedHeader([]byte("tampered body"), ts, testSecret)

	_, err := ConstructEvent(payload, header, testSecret)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestConstructEvent_WrongSecret(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	ts := time.Now().Unix()

	_, err := ConstructEvent(payload, signedHeader(payload, ts, "other-secret"), testSecret)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestConstructEvent_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	ts := time.Now().Add(-time.Hour).Unix()

	_, err := ConstructEvent(payload, signedHeader(payload, ts, testSecret), testSecret)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestConstructEvent_MissingHeader(t *testing.T) {
	_, err := ConstructEvent([]byte(`{}`), "", testSecret)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestConstructEvent_MalformedPayload(t *testing.T) {
	payload := []byte(`{not json`)
	ts := time.Now().Unix()

	_, err := ConstructEvent(payload, signedHeader(payload, ts, testSecret), testSecret)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}
