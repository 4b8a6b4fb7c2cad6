package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

type fakeIntents struct {
	params *stripe.PaymentIntentParams
	err    error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		ClientSecret: "pi_123_secret",
	}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []*domain.PaymentAuditEntry
}

func (f *fakeRecorder) RecordPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func TestPayments(t *testing.T) {
	t.Run("success is recorded", func(t *testing.T) {
		intents := &fakeIntents{}
		recorder := &fakeRecorder{}
		p := NewPayments(intents, recorder, 1000, "USD")

		data, err := p.Call(context.Background(), 42, Request{Operation: OpPayment, Params: map[string]string{"amount": "2500"}})
		require.NoError(t, err)

		out := data.(map[string]interface{})
		assert.Equal(t, "pi_123", out["payment_intent_id"])
		assert.Equal(t, int64(2500), out["amount"])
		assert.Equal(t, "42", intents.params.Metadata["user_id"])
		assert.NotNil(t, intents.params.IdempotencyKey)

		require.Len(t, recorder.entries, 1)
		assert.Equal(t, domain.PaymentSucceeded, recorder.entries[0].Outcome)
		assert.Equal(t, "pi_123", recorder.entries[0].Reference)
		assert.Equal(t, "usd", recorder.entries[0].Currency)
	})

	t.Run("failure is recorded", func(t *testing.T) {
		recorder := &fakeRecorder{}
		p := NewPayments(&fakeIntents{err: errors.New("card declined")}, recorder, 1000, "usd")

		_, err := p.Call(context.Background(), 42, Request{Operation: OpPayment})
		require.Error(t, err)
		require.Len(t, recorder.entries, 1)
		assert.Equal(t, domain.PaymentFailed, recorder.entries[0].Outcome)
		assert.Equal(t, int64(1000), recorder.entries[0].Amount)
		assert.Contains(t, recorder.entries[0].Detail, "card declined")
	})

	t.Run("invalid amount", func(t *testing.T) {
		recorder := &fakeRecorder{}
		p := NewPayments(&fakeIntents{}, recorder, 1000, "usd")

		_, err := p.Call(context.Background(), 42, Request{Operation: OpPayment, Params: map[string]string{"amount": "-5"}})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Empty(t, recorder.entries)
	})
}

func TestStripeClientAgainstTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "1000", r.PostForm.Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_test","object":"payment_intent","amount":1000,"currency":"usd","status":"requires_payment_method","client_secret":"pi_test_secret"}`)
	}))
	defer srv.Close()

	api := NewStripeClient("sk_test_123", srv.URL)
	p := NewPayments(api.PaymentIntents, &fakeRecorder{}, 1000, "usd")

	data, err := p.Call(context.Background(), 1, Request{Operation: OpPayment})
	require.NoError(t, err)
	assert.Equal(t, "pi_test", data.(map[string]interface{})["payment_intent_id"])
}

func TestAuthTokenExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "https://tenant.example.com/api/v2/", r.PostForm.Get("audience"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	cfg := Auth0Config("tenant.example.com", "client", "secret")
	assert.Equal(t, "https://tenant.example.com/oauth/token", cfg.TokenURL)
	cfg.TokenURL = srv.URL

	data, err := NewAuth(cfg).Call(context.Background(), 1, Request{Operation: OpToken})
	require.NoError(t, err)
	out := data.(map[string]interface{})
	assert.Equal(t, "tok-123", out["access_token"])
	assert.Equal(t, "Bearer", out["token_type"])
}

func TestAuthTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"access_denied"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAuth(&clientcredentials.Config{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}).
		Call(context.Background(), 1, Request{Operation: OpToken})
	assert.Error(t, err)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	b, _ := io.ReadAll(params.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"abc"`)}, nil
}

func TestStorageUpload(t *testing.T) {
	putter := &fakePutter{}
	s := NewStorage(putter, "uploads")

	data, err := s.Call(context.Background(), 9, Request{Operation: OpUpload, Filename: "../../etc/report.pdf", Body: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "user_9/report.pdf", aws.ToString(putter.input.Key))
	assert.Equal(t, "uploads", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "hello", putter.body)
	assert.Equal(t, 5, data.(map[string]interface{})["size"])
}

func TestObjectKey(t *testing.T) {
	key, err := ObjectKey(3, `C:\docs\a.txt`)
	require.NoError(t, err)
	assert.Equal(t, "user_3/a.txt", key)

	for _, name := range []string{"", "/", ".."} {
		_, err := ObjectKey(3, name)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			fmt.Fprint(w, `{}`)
			return
		}
		assert.Equal(t, "/documents/_search", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"query":{"match":{"content":"golang"}}}`, string(body))
		fmt.Fprint(w, `{"hits":{"total":{"value":1},"hits":[{"_id":"doc-1","_score":1.5,"_source":{"content":"golang"}}]}}`)
	}))
	defer srv.Close()

	client, err := NewSearchClient(SearchOptions{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	s := NewSearch(client, "documents")

	data, err := s.Call(context.Background(), 1, Request{Operation: OpSearch, Params: map[string]string{"query": "golang"}})
	require.NoError(t, err)
	out := data.(map[string]interface{})
	assert.Equal(t, int64(1), out["total"])
	hits := out["hits"].([]map[string]interface{})
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0]["id"])

	_, err = s.Call(context.Background(), 1, Request{Operation: OpSearch})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMessagingPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), `"message":"hello"`) {
			return fmt.Errorf("unexpected payload %s", val)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	defer func() { require.NoError(t, producer.Close()) }()

	m := NewMessaging(producer, "events")

	data, err := m.Call(context.Background(), 5, Request{Operation: OpPublish, Params: map[string]string{"message": "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "events", data.(map[string]interface{})["topic"])

	_, err = m.Call(context.Background(), 5, Request{Operation: OpPublish, Params: map[string]string{"message": "again"}})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	_, err = m.Call(context.Background(), 5, Request{Operation: OpPublish})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type stuckProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (p *stuckProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	return 0, 0, nil
}

func TestMessagingPublishHonorsDeadline(t *testing.T) {
	producer := &stuckProducer{release: make(chan struct{})}
	defer close(producer.release)
	m := NewMessaging(producer, "events")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := m.Call(ctx, 5, Request{Operation: OpPublish, Params: map[string]string{"message": "hello"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestKafkaConfigTimeouts(t *testing.T) {
	cfg := KafkaConfig(3 * time.Second)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, 3*time.Second, cfg.Producer.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Net.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.Net.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.Net.WriteTimeout)
	assert.Equal(t, 3*time.Second, cfg.Metadata.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewCache(client)
	ctx := context.Background()

	data, err := c.Call(ctx, 4, Request{Operation: OpGet, Params: map[string]string{"key": "greeting"}})
	require.NoError(t, err)
	assert.Equal(t, false, data.(map[string]interface{})["found"])

	_, err = c.Call(ctx, 4, Request{Operation: OpSet, Params: map[string]string{"key": "greeting", "value": "hi", "ttl": "1m"}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(CacheKey(4, "greeting")))

	data, err = c.Call(ctx, 4, Request{Operation: OpGet, Params: map[string]string{"key": "greeting"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", data.(map[string]interface{})["value"])

	// other users do not see the entry
	data, err = c.Call(ctx, 5, Request{Operation: OpGet, Params: map[string]string{"key": "greeting"}})
	require.NoError(t, err)
	assert.Equal(t, false, data.(map[string]interface{})["found"])

	_, err = c.Call(ctx, 4, Request{Operation: OpSet, Params: map[string]string{"key": "k", "ttl": "soon"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.Call(ctx, 4, Request{Operation: OpGet})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
