package wsengine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"nhooyr.io/wsengine/internal/test/assert"
)

func TestCloseError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		ce      CloseError
		payload []byte
		success bool
	}{
		{
			name: "normal",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: "bye",
			},
			payload: []byte{0x3, 0xe8, 'b', 'y', 'e'},
			success: true,
		},
		{
			name: "maxReason",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxCloseReason),
			},
			payload: append([]byte{0x3, 0xe8}, strings.Repeat("x", maxCloseReason)...),
			success: true,
		},
		{
			name: "noStatus",
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
			success: true,
		},
		{
			name: "bigReason",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxCloseReason+1),
			},
			success: false,
		},
		{
			name: "bigCode",
			ce: CloseError{
				Code: math.MaxUint16 + 1,
			},
			success: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := tc.ce.bytes()
			if !tc.success {
				assert.Error(t, err)
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "payload", tc.payload, p)
		})
	}
}

func Test_parseClosePayload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		p    []byte
		ce   CloseError
	}{
		{
			name: "normal",
			p:    append([]byte{0x3, 0xE8}, []byte("hello")...),
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: "hello",
			},
		},
		{
			name: "nothing",
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
		},
		{
			name: "oneByte",
			p:    []byte{0},
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
		},
		{
			name: "applicationCode",
			p:    []byte{0x0f, 0xa0},
			ce: CloseError{
				Code: 4000,
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "CloseError", tc.ce, parseClosePayload(tc.p))
		})
	}
}

func Test_validWireCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		code  StatusCode
		valid bool
	}{
		{code: StatusNormalClosure, valid: true},
		{code: StatusGoingAway, valid: true},
		{code: statusReserved, valid: false},
		{code: StatusNoStatusRcvd, valid: false},
		{code: StatusAbnormalClosure, valid: false},
		{code: statusTLSHandshake, valid: false},
		{code: 999, valid: false},
		{code: 2999, valid: false},
		{code: 3000, valid: true},
		{code: 4999, valid: true},
		{code: 5000, valid: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.code.String(), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "valid", tc.valid, validWireCloseCode(tc.code))
		})
	}
}

func TestCloseStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   error
		exp  StatusCode
	}{
		{
			name: "nil",
			in:   nil,
			exp:  -1,
		},
		{
			name: "io.EOF",
			in:   errors.New("io.EOF"),
			exp:  -1,
		},
		{
			name: "StatusInternalError",
			in: CloseError{
				Code: StatusInternalError,
			},
			exp: StatusInternalError,
		},
		{
			name: "wrapped",
			in: fmt.Errorf("failed to read: %w", CloseError{
				Code: StatusGoingAway,
			}),
			exp: StatusGoingAway,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "closeStatus", tc.exp, CloseStatus(tc.in))
		})
	}
}

func TestStatusCodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1000", "StatusNormalClosure", StatusNormalClosure.String())
	assert.Contains(t, StatusCode(4000).String(), "4000")
}
