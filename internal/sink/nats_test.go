package sink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tinytelemetry/harmonic/internal/model"
)

func TestDialNATS_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := DialNATS(context.Background(), NATSConfig{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNATSPublisher_PublishesToVariantSubject(t *testing.T) {
	url := os.Getenv("HARMONIC_TEST_NATS_URL")
	if url == "" {
		t.Skip("HARMONIC_TEST_NATS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := "HARMONIC_TEST_" + time.Now().UTC().Format("150405")
	pub, err := DialNATS(ctx, NATSConfig{URL: url, SubjectPrefix: "harmonictest", Stream: stream})
	if err != nil {
		t.Fatalf("DialNATS: %v", err)
	}
	t.Cleanup(func() {
		_ = pub.js.DeleteStream(context.Background(), stream)
		_ = pub.Close()
	})

	if got := pub.Subject(model.TypeCompany); got != "harmonictest.Company" {
		t.Fatalf("Subject = %q", got)
	}
	if err := pub.Accept(ctx, company); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	s, err := pub.js.Stream(ctx, stream)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	raw, err := s.GetLastMsgForSubject(ctx, "harmonictest.Company")
	if err != nil {
		t.Fatalf("GetLastMsgForSubject: %v", err)
	}
	want := `{"type":"Company","data":{"company_id":2,"company_name":"Acme","headcount":null}}`
	if string(raw.Data) != want {
		t.Fatalf("published = %s, want %s", raw.Data, want)
	}

}
