package mctp

import "testing"

func TestPacketCount(t *testing.T) {
	tests := []struct {
		name string
		typ  uint8
		len  int
		want int
	}{
		{"control is always one packet", MsgTypeControl, 500, 1},
		{"empty control", MsgTypeControl, 0, 1},
		{"single byte", MsgTypeCXLFMAPI, 1, 1},
		{"exact btu", MsgTypeCXLFMAPI, 64, 1},
		{"one over", MsgTypeCXLFMAPI, 65, 2},
		{"three packets", MsgTypeCXLFMAPI, 130, 3},
		{"max payload", MsgTypeCXLCCI, 8191, 128},
		{"unknown type", 0x33, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Type: tt.typ, Len: tt.len}
			if got := m.PacketCount(); got != tt.want {
				t.Errorf("PacketCount(type=0x%02x len=%d) = %d, want %d",
					tt.typ, tt.len, got, tt.want)
			}
		})
	}
}

func TestBody(t *testing.T) {
	m := &Message{Len: 5}
	copy(m.Payload[:], []byte{1, 2, 3, 4, 5, 6})
	body := m.Body()
	if len(body) != 5 || body[4] != 5 {
		t.Errorf("Body() = %v", body)
	}

	m.Len = -1
	if len(m.Body()) != 0 {
		t.Error("negative length must yield an empty body")
	}
}

func TestMsgTypeName(t *testing.T) {
	if MsgTypeName(MsgTypeCXLFMAPI) != "CXLFMAPI" {
		t.Errorf("unexpected name %q", MsgTypeName(MsgTypeCXLFMAPI))
	}
	if MsgTypeName(0x42) != "UNKNOWN" {
		t.Errorf("unexpected name %q", MsgTypeName(0x42))
	}
}
