// Copyright 2024 CUE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestBinaryCodecWriteRequestFramesWithLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	c := newCodec(ProtocolBinary, &buf, &buf)
	req := Request{ID: "r1", Arguments: []string{"-v"}}
	qt.Assert(t, qt.IsNil(c.WriteRequest(req)))

	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	var got Request
	qt.Assert(t, qt.IsNil(json.Unmarshal(buf.Bytes()[4:4+n], &got)))
	qt.Assert(t, qt.Equals(got.ID, "r1"))
}

func TestBinaryCodecReadResponseRoundTrip(t *testing.T) {
	resp := Response{ID: "r1", ExitCode: 0, Output: "done"}
	body, err := json.Marshal(resp)
	qt.Assert(t, qt.IsNil(err))

	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	buf.Write(hdr[:])
	buf.Write(body)

	c := newCodec(ProtocolBinary, &buf, &buf)
	got, err := c.ReadResponse()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, resp))
}

func TestNDJSONCodecWriteRequestAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	c := newCodec(ProtocolNDJSON, &buf, &buf)
	qt.Assert(t, qt.IsNil(c.WriteRequest(Request{ID: "x"})))
	qt.Assert(t, qt.IsTrue(bytes.HasSuffix(buf.Bytes(), []byte("\n"))))
}

func TestNDJSONCodecReadResponseDecodesOneLine(t *testing.T) {
	resp := Response{ID: "x", ExitCode: 1, Output: "oops"}
	body, err := json.Marshal(resp)
	qt.Assert(t, qt.IsNil(err))

	buf := bytes.NewBuffer(append(body, '\n'))
	c := newCodec(ProtocolNDJSON, buf, buf)
	got, err := c.ReadResponse()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, resp))
}

func TestNDJSONCodecWritesOneLinePerRequest(t *testing.T) {
	var buf bytes.Buffer
	c := newCodec(ProtocolNDJSON, &buf, &buf)
	qt.Assert(t, qt.IsNil(c.WriteRequest(Request{ID: "a"})))
	qt.Assert(t, qt.IsNil(c.WriteRequest(Request{ID: "b"})))
	qt.Assert(t, qt.Equals(bytes.Count(buf.Bytes(), []byte("\n")), 2))
}
