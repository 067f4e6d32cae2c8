package h2

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/rendau/httpc/errs"
)

func (c *St) readLoop() {
	defer close(c.readerDone)

	for {
		f, err := c.rfr.ReadFrame()
		if err != nil {
			var se http2.StreamError
			if errors.As(err, &se) {
				if !c.emit(event{streamID: se.StreamID, errCode: se.Code, err: se}) {
					return
				}
				continue
			}
			c.emit(event{err: err})
			return
		}

		if !c.emit(toEvent(f)) {
			return
		}
	}
}

func (c *St) emit(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func toEvent(f http2.Frame) event {
	hdr := f.Header()

	ev := event{
		typ:      hdr.Type,
		streamID: hdr.StreamID,
		flags:    hdr.Flags,
	}

	switch f := f.(type) {
	case *http2.DataFrame:
		ev.data = append([]byte(nil), f.Data()...)
		ev.flowLen = f.Length
	case *http2.MetaHeadersFrame:
		ev.fields = append([]hpack.HeaderField(nil), f.Fields...)
	case *http2.SettingsFrame:
		_ = f.ForeachSetting(func(s http2.Setting) error {
			ev.settings = append(ev.settings, s)
			return nil
		})
	case *http2.PingFrame:
		ev.ping = f.Data
	case *http2.WindowUpdateFrame:
		ev.increment = f.Increment
	case *http2.RSTStreamFrame:
		ev.errCode = f.ErrCode
	case *http2.GoAwayFrame:
		ev.errCode = f.ErrCode
		ev.lastID = f.LastStreamID
		ev.data = append([]byte(nil), f.DebugData()...)
	}

	return ev
}

func (c *St) process(ev event) error {
	if ev.err != nil {
		if ev.streamID != 0 {
			return c.resetStream(ev.streamID, ev.errCode, ev.err)
		}
		if errors.Is(ev.err, io.EOF) || errors.Is(ev.err, io.ErrUnexpectedEOF) {
			return errs.Desc(errs.Fail, "connection closed by peer")
		}
		return ev.err
	}

	c.lg.Debugw("recv frame", "type", ev.typ.String(), "stream", ev.streamID, "flags", uint8(ev.flags))

	switch ev.typ {
	case http2.FrameSettings:
		return c.onSettings(ev)
	case http2.FramePing:
		if ev.flags.Has(http2.FlagPingAck) {
			return nil
		}
		return c.wfr.WritePing(true, ev.ping)
	case http2.FrameWindowUpdate:
		return c.onWindowUpdate(ev)
	case http2.FrameGoAway:
		c.onGoAway(ev)
	case http2.FrameHeaders:
		return c.onHeaders(ev)
	case http2.FrameData:
		return c.onData(ev)
	case http2.FrameRSTStream:
		c.onReset(ev)
	case http2.FramePushPromise:
		return http2.ConnectionError(http2.ErrCodeProtocol)
	}

	return nil
}

func (c *St) onSettings(ev event) error {
	if ev.flags.Has(http2.FlagSettingsAck) {
		return nil
	}

	for _, s := range ev.settings {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			if s.Val > math.MaxInt32 {
				return http2.ConnectionError(http2.ErrCodeFlowControl)
			}
			delta := int64(s.Val) - c.peerInitialWindow
			c.peerInitialWindow = int64(s.Val)
			for _, st := range c.streams {
				st.sendWindow += delta
			}
		case http2.SettingMaxFrameSize:
			if s.Val < defaultMaxFrameSize || s.Val > 1<<24-1 {
				return http2.ConnectionError(http2.ErrCodeProtocol)
			}
			c.peerMaxFrameSize = s.Val
		case http2.SettingHeaderTableSize:
			c.henc.SetMaxDynamicTableSize(s.Val)
		}
		c.lg.Debugw("peer setting", "id", s.ID.String(), "val", s.Val)
	}

	return c.wfr.WriteSettingsAck()
}

func (c *St) onWindowUpdate(ev event) error {
	if ev.streamID == 0 {
		if ev.increment == 0 || c.connSendWindow+int64(ev.increment) > math.MaxInt32 {
			return http2.ConnectionError(http2.ErrCodeFlowControl)
		}
		c.connSendWindow += int64(ev.increment)
		return nil
	}

	s, ok := c.streams[ev.streamID]
	if !ok || s.Closed {
		return nil
	}

	if ev.increment == 0 {
		return c.resetStream(ev.streamID, http2.ErrCodeProtocol, http2.StreamError{StreamID: ev.streamID, Code: http2.ErrCodeProtocol})
	}
	if s.sendWindow+int64(ev.increment) > math.MaxInt32 {
		return c.resetStream(ev.streamID, http2.ErrCodeFlowControl, http2.StreamError{StreamID: ev.streamID, Code: http2.ErrCodeFlowControl})
	}

	s.sendWindow += int64(ev.increment)

	return nil
}

func (c *St) onGoAway(ev event) {
	c.goAway = true

	if ev.errCode != http2.ErrCodeNo {
		c.lg.Errorw("recv goaway", nil, "code", ev.errCode.String(), "last_stream", ev.lastID, "debug", string(ev.data))
	} else {
		c.lg.Infow("recv goaway", "last_stream", ev.lastID)
	}

	for id, s := range c.streams {
		if id > ev.lastID && !s.Closed {
			s.Closed = true
			s.Err = errs.Desc(errs.Fail, "stream refused by goaway")
			c.lg.Debugw("stream close", "stream", id)
		}
	}
}

func (c *St) onHeaders(ev event) error {
	s, ok := c.streams[ev.streamID]
	if !ok || s.Closed {
		return nil
	}

	trailer := s.Status != 0

	for _, f := range ev.fields {
		c.lg.Debugw("recv header", "stream", ev.streamID, "name", f.Name, "value", f.Value)

		if strings.HasPrefix(f.Name, ":") {
			if trailer || f.Name != ":status" {
				return c.resetStream(ev.streamID, http2.ErrCodeProtocol, errs.Desc(errs.Fail, "unexpected pseudo header "+f.Name))
			}
			code, err := strconv.Atoi(f.Value)
			if err != nil {
				return c.resetStream(ev.streamID, http2.ErrCodeProtocol, errs.Desc(errs.Fail, "bad status "+f.Value))
			}
			s.Status = code
			continue
		}

		if trailer {
			if s.Trailer == nil {
				s.Trailer = http.Header{}
			}
			s.Trailer.Add(f.Name, f.Value)
			continue
		}

		if s.Header == nil {
			s.Header = http.Header{}
		}
		s.Header.Add(f.Name, f.Value)
	}

	if s.Status == 0 {
		return c.resetStream(ev.streamID, http2.ErrCodeProtocol, errs.Desc(errs.Fail, "response without status"))
	}

	// informational responses are followed by the final one
	if s.Status >= 100 && s.Status < 200 && !ev.flags.Has(http2.FlagHeadersEndStream) {
		s.Status = 0
		s.Header = nil
		return nil
	}

	if ev.flags.Has(http2.FlagHeadersEndStream) {
		return c.remoteClose(s)
	}

	return nil
}

func (c *St) onData(ev event) error {
	if ev.flowLen > 0 {
		if err := c.wfr.WriteWindowUpdate(0, ev.flowLen); err != nil {
			return err
		}
	}

	s, ok := c.streams[ev.streamID]
	if !ok || s.Closed {
		return nil
	}

	end := ev.flags.Has(http2.FlagDataEndStream)

	if s.write != nil && (len(ev.data) > 0 || end) {
		flags := DataFlagNone
		if end {
			flags = DataFlagEOF
		}
		if err := s.write(s.ID, ev.data, flags); err != nil {
			c.lg.Warnw("write to user fail", "stream", ev.streamID, "error", err)
			return c.resetStream(ev.streamID, http2.ErrCodeCancel, err)
		}
	}

	if end {
		return c.remoteClose(s)
	}

	if ev.flowLen > 0 {
		return c.wfr.WriteWindowUpdate(ev.streamID, ev.flowLen)
	}

	return nil
}

func (c *St) onReset(ev event) {
	s, ok := c.streams[ev.streamID]
	if !ok || s.Closed {
		return
	}

	s.Closed = true
	s.ResetCode = ev.errCode
	if ev.errCode != http2.ErrCodeNo || s.Status == 0 {
		s.Err = http2.StreamError{StreamID: ev.streamID, Code: ev.errCode}
	}

	c.lg.Debugw("stream close", "stream", ev.streamID, "code", ev.errCode.String())
}

// remoteClose handles END_STREAM from the peer. A request body still being
// sent is cancelled.
func (c *St) remoteClose(s *stream) error {
	s.Closed = true

	c.lg.Debugw("stream close", "stream", s.ID, "status", s.Status)

	if !s.localClosed {
		s.localClosed = true
		return c.wfr.WriteRSTStream(uint32(s.ID), http2.ErrCodeNo)
	}

	return nil
}

func (c *St) resetStream(id uint32, code http2.ErrCode, cause error) error {
	s, ok := c.streams[id]
	if !ok || s.Closed {
		return nil
	}

	s.Closed = true
	s.ResetCode = code
	s.Err = cause

	c.lg.Warnw("stream reset", "stream", id, "code", code.String(), "error", cause)

	return c.wfr.WriteRSTStream(id, code)
}

func (c *St) sendPass() error {
	for _, id := range c.order {
		s := c.streams[id]
		if s.Closed {
			continue
		}

		if !s.headersSent {
			if err := c.writeHeaders(s); err != nil {
				return err
			}
		}

		if !s.localClosed {
			if err := c.writeData(s); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *St) writeHeaders(s *stream) error {
	c.hbuf.Reset()

	for _, f := range s.nva {
		if err := c.henc.WriteField(f); err != nil {
			return err
		}
		c.lg.Debugw("send header", "stream", s.ID, "name", f.Name, "value", f.Value)
	}

	id := uint32(s.ID)
	block := c.hbuf.Bytes()
	frameSize := int(c.peerMaxFrameSize)
	endStream := s.read == nil

	first := block
	if len(first) > frameSize {
		first = block[:frameSize]
	}

	err := c.wfr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(first) == len(block),
	})
	if err != nil {
		return err
	}

	for rest := block[len(first):]; len(rest) > 0; {
		chunk := rest[:min(frameSize, len(rest))]
		rest = rest[len(chunk):]
		if err = c.wfr.WriteContinuation(id, len(rest) == 0, chunk); err != nil {
			return err
		}
	}

	s.headersSent = true
	if endStream {
		s.localClosed = true
	}

	return nil
}

func (c *St) writeData(s *stream) error {
	id := uint32(s.ID)

	for {
		if len(s.pending) == 0 && !s.pendingEOF {
			buf := make([]byte, c.peerMaxFrameSize)

			n, flags, err := s.read(s.ID, buf)
			if err == nil && (n < 0 || n > len(buf)) {
				err = errs.Desc(errs.Fail, "read from user returned "+strconv.Itoa(n))
			}
			if err != nil {
				c.lg.Warnw("read from user fail", "stream", id, "error", err)
				return c.resetStream(id, http2.ErrCodeInternal, err)
			}

			if n == 0 && flags&DataFlagEOF == 0 {
				return nil
			}

			s.pending = buf[:n]
			s.pendingEOF = flags&DataFlagEOF != 0
		}

		n := min(int64(len(s.pending)), c.connSendWindow, s.sendWindow, int64(c.peerMaxFrameSize))
		if n <= 0 && len(s.pending) > 0 {
			return nil
		}
		n = max(n, 0)

		end := s.pendingEOF && int(n) == len(s.pending)

		if err := c.wfr.WriteData(id, end, s.pending[:n]); err != nil {
			return err
		}

		c.lg.Debugw("send data", "stream", id, "len", n, "end", end)

		c.connSendWindow -= n
		s.sendWindow -= n
		s.pending = s.pending[n:]

		if end {
			s.localClosed = true
			return nil
		}
	}
}
