package sockjs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	testCases := []struct {
		line     string
		expected Frame
	}{
		{line: "o", expected: Frame{Kind: FrameOpen}},
		{line: "hh", expected: Frame{Kind: FrameHeartbeat}},
		{line: "hhhhhhhh", expected: Frame{Kind: FrameHeartbeat}},
		{line: "h", expected: Frame{Kind: FrameUnknown}},
		{line: "", expected: Frame{Kind: FrameUnknown}},
		{line: "oo", expected: Frame{Kind: FrameUnknown}},
		{
			line: `a["1#0|m|{\"a\":1}","2#0|m|{}"]`,
			expected: Frame{
				Kind:  FramePayload,
				Items: []string{`1#0|m|{"a":1}`, `2#0|m|{}`},
			},
		},
		{
			line:     `c[4705,"Session expired"]`,
			expected: Frame{Kind: FrameClose, Code: 4705, Reason: "Session expired"},
		},
		{
			line:     `c[3000,"Go away!"]`,
			expected: Frame{Kind: FrameClose, Code: 3000, Reason: "Go away!"},
		},
	}

	for _, test := range testCases {
		frame, err := DecodeFrame(test.line)
		require.NoError(t, err, test.line)
		diff := cmp.Diff(test.expected, frame)
		if diff != "" {
			t.Fatalf("line %q: %s", test.line, diff)
		}
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	for _, line := range []string{
		`a[not json]`,
		`a[1, 2]`,
		`c[4705]`,
		`c["4705","x"]`,
		`c[4705,"x",1]`,
	} {
		_, err := DecodeFrame(line)
		var decodeErr DecodeError
		require.ErrorAs(t, err, &decodeErr, line)
		require.Equal(t, line, decodeErr.Line)
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage(`12#3|m|{"values":[1,2]}`)
	require.NoError(t, err)
	require.Equal(t, MessageData, msg.Kind)
	require.JSONEq(t, `{"values":[1,2]}`, string(msg.Body))

	msg, err = DecodeMessage(`4#0|c|{"code":500,"reason":"query failed"}`)
	require.NoError(t, err)
	require.Equal(t, Message{Kind: MessageError, Code: 500, Reason: "query failed"}, msg)

	msg, err = DecodeMessage(`4#0|x|{}`)
	require.NoError(t, err)
	require.Equal(t, MessageUnknown, msg.Kind)

	msg, err = DecodeMessage(`no framing`)
	require.NoError(t, err)
	require.Equal(t, MessageUnknown, msg.Kind)

	_, err = DecodeMessage(`1#0|m|{"broken":}`)
	require.ErrorAs(t, err, &DecodeError{})
}
