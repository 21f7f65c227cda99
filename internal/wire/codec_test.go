package wire

import (
	"testing"

	"github.com/nugget/entitysync/internal/entityid"
)

func TestEncodeDecodeClientEnvelope_Subscribe(t *testing.T) {
	want := AsClientEnvelope(Subscribe{SubscriptionID: 1, ComponentType: "Counter"})

	data, err := EncodeClientEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeClientEnvelope: %v", err)
	}

	got, err := DecodeClientEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeClientEnvelope: %v", err)
	}

	if got.Tag != ClientTagSubscribe {
		t.Fatalf("Tag = %q, want %q", got.Tag, ClientTagSubscribe)
	}
	if got.Subscribe == nil || got.Subscribe.SubscriptionID != 1 || got.Subscribe.ComponentType != "Counter" {
		t.Errorf("Subscribe = %+v, want {1 Counter}", got.Subscribe)
	}
}

func TestEncodeDecodeClientEnvelope_Mutate(t *testing.T) {
	reqID := uint64(42)
	want := AsClientEnvelope(Mutate{
		RequestID:     &reqID,
		Entity:        entityid.New(7),
		ComponentType: "Counter",
		Value:         []byte{0x01, 0x02, 0x03},
	})

	data, err := EncodeClientEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeClientEnvelope: %v", err)
	}

	got, err := DecodeClientEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeClientEnvelope: %v", err)
	}

	if got.Mutate == nil {
		t.Fatal("Mutate field is nil after round-trip")
	}
	if got.Mutate.Entity != entityid.New(7) {
		t.Errorf("Entity = %v, want %v", got.Mutate.Entity, entityid.New(7))
	}
	if *got.Mutate.RequestID != 42 {
		t.Errorf("RequestID = %v, want 42", *got.Mutate.RequestID)
	}
}

func TestEncodeDecodeMutate_DanglingEntity(t *testing.T) {
	want := AsClientEnvelope(Mutate{
		Entity:        entityid.Dangling,
		ComponentType: "Counter",
		Value:         []byte{0x09},
	})

	data, err := EncodeClientEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeClientEnvelope: %v", err)
	}
	got, err := DecodeClientEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeClientEnvelope: %v", err)
	}
	if !got.Mutate.Entity.IsDangling() {
		t.Error("dangling entity did not survive round-trip")
	}
}

func TestEncodeDecodeServerEnvelope_SyncBatch(t *testing.T) {
	want := AsServerEnvelope(SyncBatch{
		Items: []SyncItem{
			{Kind: ItemSnapshot, SubscriptionID: 1, Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte{3}},
			{Kind: ItemUpdate, SubscriptionID: 1, Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte{4}},
			{Kind: ItemEntityRemoved, SubscriptionID: 1, Entity: entityid.New(12)},
		},
	})

	data, err := EncodeServerEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeServerEnvelope: %v", err)
	}
	got, err := DecodeServerEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeServerEnvelope: %v", err)
	}

	if got.Tag != ServerTagSyncBatch {
		t.Fatalf("Tag = %q, want %q", got.Tag, ServerTagSyncBatch)
	}
	if len(got.SyncBatch.Items) != 3 {
		t.Fatalf("Items length = %d, want 3", len(got.SyncBatch.Items))
	}
	if got.SyncBatch.Items[2].Kind != ItemEntityRemoved {
		t.Errorf("Items[2].Kind = %v, want ItemEntityRemoved", got.SyncBatch.Items[2].Kind)
	}
}

func TestEncodeDecodeServerEnvelope_MutationResponse(t *testing.T) {
	reqID := uint64(1)
	msg := "ownership check failed"
	want := AsServerEnvelope(MutationResponse{
		RequestID: &reqID,
		Status:    StatusForbidden,
		Message:   &msg,
	})

	data, err := EncodeServerEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeServerEnvelope: %v", err)
	}
	got, err := DecodeServerEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeServerEnvelope: %v", err)
	}

	if got.MutationResponse.Status != StatusForbidden {
		t.Errorf("Status = %v, want StatusForbidden", got.MutationResponse.Status)
	}
	if got.MutationResponse.Message == nil || *got.MutationResponse.Message != msg {
		t.Errorf("Message = %v, want %q", got.MutationResponse.Message, msg)
	}
}

func TestDecodeFrame_TruncatedLengthPrefix(t *testing.T) {
	_, err := DecodeClientEnvelope([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for frame shorter than length prefix")
	}
}

func TestDecodeFrame_LengthMismatch(t *testing.T) {
	env := AsClientEnvelope(Unsubscribe{SubscriptionID: 1})
	data, err := EncodeClientEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeClientEnvelope: %v", err)
	}

	// Truncate the body without adjusting the length prefix.
	truncated := data[:len(data)-1]
	_, err = DecodeClientEnvelope(truncated)
	if err == nil {
		t.Fatal("expected error for length prefix / body mismatch")
	}
}

func TestDecodeFrame_GarbageBody(t *testing.T) {
	// Valid length prefix (1 byte) but a body that isn't valid msgpack
	// for ClientEnvelope.
	data := []byte{1, 0, 0, 0, 0, 0, 0, 0, 0xff}
	_, err := DecodeClientEnvelope(data)
	if err == nil {
		t.Fatal("expected decode error for malformed msgpack body")
	}
}

func TestUnsubscribe_RoundTrip(t *testing.T) {
	want := AsClientEnvelope(Unsubscribe{SubscriptionID: 99})
	data, err := EncodeClientEnvelope(want)
	if err != nil {
		t.Fatalf("EncodeClientEnvelope: %v", err)
	}
	got, err := DecodeClientEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeClientEnvelope: %v", err)
	}
	if got.Unsubscribe == nil || got.Unsubscribe.SubscriptionID != 99 {
		t.Errorf("Unsubscribe = %+v, want {99}", got.Unsubscribe)
	}
}

func TestMutationStatus_String(t *testing.T) {
	cases := map[MutationStatus]string{
		StatusOk:              "ok",
		StatusNotFound:        "not_found",
		StatusValidationError: "validation_error",
		StatusForbidden:       "forbidden",
		StatusInternalError:   "internal_error",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
}
