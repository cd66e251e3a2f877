package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Node
	}{
		{
			name: "primary",
			line: "65d8df8b2c5a2c7e7b0b1b1a5a6c4f1b9c2e0bfc 192.168.86.40:7001@17001 master - 0 1659439685901 19 connected 5461-10922",
			want: Node{
				ID:          "65d8df8b2c5a2c7e7b0b1b1a5a6c4f1b9c2e0bfc",
				Addr:        Addr{IP: "192.168.86.40", Port: 7001, BusPort: 17001},
				Flags:       []string{"master"},
				Role:        RolePrimary,
				PingSent:    0,
				PongRecv:    1659439685901,
				ConfigEpoch: 19,
				Link:        LinkConnected,
				Slots:       []SlotRange{{Start: 5461, End: 10922}},
			},
		},
		{
			name: "secondary without slots",
			line: "07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected",
			want: Node{
				ID:          "07c37dfeb235213a872192d90877d0cd55635b91",
				Addr:        Addr{IP: "127.0.0.1", Port: 30004, BusPort: 31004},
				Flags:       []string{"slave"},
				Role:        RoleSecondary,
				PrimaryID:   "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca",
				PongRecv:    1426238317239,
				ConfigEpoch: 4,
				Link:        LinkConnected,
			},
		},
		{
			name: "myself with hostname, single slots and a migration",
			line: "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001,node-1 myself,master - 0 0 1 connected 0-5460 10923 [5461->-292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f]",
			want: Node{
				ID:          "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca",
				Addr:        Addr{IP: "127.0.0.1", Port: 30001, BusPort: 31001},
				Flags:       []string{"myself", "master"},
				Role:        RolePrimary,
				Myself:      true,
				ConfigEpoch: 1,
				Link:        LinkConnected,
				Slots:       []SlotRange{{Start: 0, End: 5460}, {Start: 10923, End: 10923}},
			},
		},
		{
			name: "failed node with disconnected link",
			line: "292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master,fail - 1426238316232 1426238315232 3 disconnected",
			want: Node{
				ID:          "292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f",
				Addr:        Addr{IP: "127.0.0.1", Port: 30003, BusPort: 31003},
				Flags:       []string{"master", "fail"},
				Role:        RolePrimary,
				PingSent:    1426238316232,
				PongRecv:    1426238315232,
				ConfigEpoch: 3,
				Link:        LinkDisconnected,
			},
		},
		{
			name: "handshake node has no role",
			line: "aaaa 10.0.0.9:6379@16379 handshake - 0 0 0 connected",
			want: Node{
				ID:    "aaaa",
				Addr:  Addr{IP: "10.0.0.9", Port: 6379, BusPort: 16379},
				Flags: []string{"handshake"},
				Role:  RoleUndefined,
				Link:  LinkConnected,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodeLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNodeLineErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "abc 127.0.0.1:7000@17000 master -"},
		{"bad port", "abc 127.0.0.1:x@17000 master - 0 0 1 connected"},
		{"no port", "abc localhost master - 0 0 1 connected"},
		{"bad epoch", "abc 127.0.0.1:7000@17000 master - 0 0 one connected"},
		{"slot out of range", "abc 127.0.0.1:7000@17000 master - 0 0 1 connected 0-16384"},
		{"inverted range", "abc 127.0.0.1:7000@17000 master - 0 0 1 connected 10-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNodeLine(tt.line)
			assert.Error(t, err)
		})
	}
}

func TestParseNodes(t *testing.T) {
	text := "a 127.0.0.1:7000@17000 myself,master - 0 0 1 connected 0-8191\n" +
		"b 127.0.0.1:7001@17001 master - 0 0 2 connected 8192-16383\n" +
		"c 127.0.0.1:7002@17002 slave a 0 0 1 connected\n"

	nodes, err := ParseNodes(text)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "127.0.0.1:7001", nodes[1].Addr.HostPort())
	assert.Equal(t, "a", nodes[2].PrimaryID)

	_, err = ParseNodes("\n\n")
	assert.Error(t, err)
}
