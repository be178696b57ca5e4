package jsoncodec

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(Name)
	if c == nil {
		t.Fatal("json codec not registered")
	}
	type msg struct {
		Username string `json:"username"`
	}
	b, err := c.Marshal(&msg{Username: "alice"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"username":"alice"}` {
		t.Errorf("Marshal = %s", b)
	}
	var out msg
	if err := c.Unmarshal(nil, &out); err != nil {
		t.Errorf("empty body should decode to the zero value: %v", err)
	}
}
