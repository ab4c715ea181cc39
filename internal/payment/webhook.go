package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader — заголовок с подписью webhook-уведомления провайдера.
const SignatureHeader = "Payment-Signature"

// EventCheckoutCompleted — единственный тип события, который ведёт к расчёту.
const EventCheckoutCompleted = "checkout.session.completed"

// signatureTolerance — допустимый возраст подписи уведомления.
const signatureTolerance = 5 * time.Minute

// ErrSignatureInvalid возвращается при неверной или устаревшей подписи уведомления.
var (
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrMalformedPayload возвращается, если тело уведомления не удалось разобрать.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Address — адрес доставки из уведомления провайдера. Отсутствующая вторая
// строка адреса декодируется в пустую строку.
type Address struct {
	City       string `json:"city"`
	Country    string `json:"country"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	PostalCode string `json:"postal_code"`
}

// ShippingDetails содержит данные доставки платёжной сессии.
type ShippingDetails struct {
	Address Address `json:"address"`
}

// SessionObject — завершённая платёжная сессия из уведомления.
// AmountTotal — сумма в минорных единицах валюты.
type SessionObject struct {
	AmountTotal     int64             `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	ShippingDetails ShippingDetails   `json:"shipping_details"`
}

// Event — webhook-событие провайдера.
type Event struct {
	Type string `json:"type"`
	Data struct {
		Object SessionObject `json:"object"`
	} `json:"data"`
}

// ConstructEvent проверяет подпись сырого тела уведомления и декодирует событие.
// Подпись имеет вид "t=<unix>,v1=<hex>", где v1 — HMAC-SHA256 от "<t>.<тело>".
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	ts, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if d := time.Since(time.Unix(ts, 0)); d > signatureTolerance || d < -signatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := Sign(payload, ts, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrSignatureInvalid
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	return &event, nil
}

// Sign вычисляет подпись тела уведомления для метки времени ts.
func Sign(payload []byte, ts int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, string, error) {
	var (
		ts        int64
		signature string
		seenTS    bool
	)

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
			ts = parsed
			seenTS = true
		case "v1":
			signature = v
		}
	}

	if !seenTS || signature == "" {
		return 0, "", fmt.Errorf("%w: missing signature elements", ErrSignatureInvalid)
	}

	return ts, signature, nil
}
