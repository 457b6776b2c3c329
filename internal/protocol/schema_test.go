package protocol

import "testing"

func TestValidate(t *testing.T) {
	ok := map[string]string{
		TypeHello: `{"type":"HELLO","protocol_version":"1.0","server_name":"survival"}`,
		TypeEvent: `{"type":"EVENT","protocol_version":"1.0","seq":1,"event":{"type":"item.collect","player_id":"alice","payload":{"item":"WHEAT","amount":3}}}`,
	}
	for typ, raw := range ok {
		if err := Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	bad := map[string]string{
		"missing server name": `{"type":"HELLO","protocol_version":"1.0"}`,
		"unknown event":       `{"type":"EVENT","protocol_version":"1.0","seq":1,"event":{"type":"player.dance"}}`,
		"zero seq":            `{"type":"EVENT","protocol_version":"1.0","seq":0,"event":{"type":"player.join"}}`,
	}
	for name, raw := range bad {
		base, err := DecodeBase([]byte(raw))
		if err != nil {
			t.Fatalf("%s: DecodeBase: %v", name, err)
		}
		if err := Validate(base.Type, []byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if err := Validate(TypeAck, []byte(`{}`)); err != nil {
		t.Fatalf("types without a schema should pass: %v", err)
	}
}
