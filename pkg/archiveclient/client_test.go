package archiveclient

import (
	"context"
	"testing"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := jsonCodec{}
	req := &AllocRequest{Series: "hmi.v_45s", Bytes: 1024, TapeGroup: 3}

	data, err := codec.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got AllocRequest
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != *req {
		t.Errorf("roundtrip = %+v, want %+v", got, *req)
	}
	if codec.Name() != "json" {
		t.Errorf("Name() = %q, want json", codec.Name())
	}
}

func TestGetRejectsOverBatchMax(t *testing.T) {
	c := &Client{}
	sunums := make([]int64, BatchMax+1)
	_, err := c.Get(context.Background(), &GetRequest{Sunums: sunums})
	if err == nil {
		t.Fatal("Get() with over-batch-max sunums should error before touching the connection")
	}
}

func TestPutRejectsOverBatchMax(t *testing.T) {
	c := &Client{}
	sunums := make([]int64, BatchMax+1)
	_, err := c.Put(context.Background(), &PutRequest{Sunums: sunums})
	if err == nil {
		t.Fatal("Put() with over-batch-max units should error before touching the connection")
	}
}

func TestInfoRejectsOverBatchMax(t *testing.T) {
	c := &Client{}
	sunums := make([]int64, BatchMax+1)
	_, err := c.Info(context.Background(), &InfoRequest{Sunums: sunums})
	if err == nil {
		t.Fatal("Info() with over-batch-max sunums should error before touching the connection")
	}
}
