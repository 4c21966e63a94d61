package main

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/tidwall/redcon"

	"github.com/jls-format/jls-go/internal/dtype"
	"github.com/jls-format/jls-go/pkg/jls"
)

func wrongArgs(conn redcon.Conn, cmd redcon.Command) {
	conn.WriteError("ERR wrong number of arguments for '" + string(cmd.Args[0]) + "' command")
}

func (app *App) ping(conn redcon.Conn, cmd redcon.Command) {
	conn.WriteString("PONG")
}

func (app *App) quit(conn redcon.Conn, cmd redcon.Command) {
	conn.WriteString("OK")
	conn.Close()
}

// source handles `SOURCE id name vendor model version serial`, per
// spec.md §4.N's RESP command set.
func (app *App) source(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 7 {
		wrongArgs(conn, cmd)
		return
	}
	id, err := strconv.ParseUint(string(cmd.Args[1]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid id: " + err.Error())
		return
	}
	s := jls.Source{
		ID:   uint16(id),
		Name: string(cmd.Args[2]),
		Tags: map[string]string{
			"vendor":  string(cmd.Args[3]),
			"model":   string(cmd.Args[4]),
			"version": string(cmd.Args[5]),
			"serial":  string(cmd.Args[6]),
		},
	}
	if err := app.tw.SourceDef(s); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	conn.WriteString("OK")
}

// signal handles `SIGNAL id source_id kind datatype rate
// sample_id_offset name units`.
func (app *App) signal(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 9 {
		wrongArgs(conn, cmd)
		return
	}
	id, err := strconv.ParseUint(string(cmd.Args[1]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid id: " + err.Error())
		return
	}
	sourceID, err := strconv.ParseUint(string(cmd.Args[2]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid source_id: " + err.Error())
		return
	}
	var kind jls.Kind
	switch string(cmd.Args[3]) {
	case "fsr", "FSR":
		kind = jls.KindFSR
	case "vsr", "VSR":
		kind = jls.KindVSR
	default:
		conn.WriteError("ERR kind must be fsr or vsr")
		return
	}
	dt, err := dtype.ParseDataType(string(cmd.Args[4]))
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	rate, err := strconv.ParseFloat(string(cmd.Args[5]), 64)
	if err != nil {
		conn.WriteError("ERR invalid rate: " + err.Error())
		return
	}
	offset, err := strconv.ParseInt(string(cmd.Args[6]), 10, 64)
	if err != nil {
		conn.WriteError("ERR invalid sample_id_offset: " + err.Error())
		return
	}
	sig := jls.Signal{
		SignalID:       uint16(id),
		SourceID:       uint16(sourceID),
		Kind:           kind,
		DataType:       dt,
		SampleRate:     rate,
		SampleIDOffset: offset,
		Name:           string(cmd.Args[7]),
		Units:          string(cmd.Args[8]),
	}
	if err := app.tw.SignalDef(sig); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	app.mu.Lock()
	app.signals[sig.SignalID] = sig
	app.mu.Unlock()
	conn.WriteString("OK")
}

// fsr handles `FSR signal_id sample_id base64(data)`. data is the raw
// packed bytes of sample_id's signal's data type, the same bytes a
// level-0 chunk payload would carry for a full (non-partial) byte run.
func (app *App) fsr(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, cmd)
		return
	}
	signalID, err := strconv.ParseUint(string(cmd.Args[1]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid signal_id: " + err.Error())
		return
	}
	sampleID, err := strconv.ParseInt(string(cmd.Args[2]), 10, 64)
	if err != nil {
		conn.WriteError("ERR invalid sample_id: " + err.Error())
		return
	}
	raw, err := base64.StdEncoding.DecodeString(string(cmd.Args[3]))
	if err != nil {
		conn.WriteError("ERR invalid base64 data: " + err.Error())
		return
	}

	app.mu.Lock()
	sig, ok := app.signals[uint16(signalID)]
	app.mu.Unlock()
	if !ok {
		conn.WriteError("ERR signal not defined")
		return
	}

	data, err := decodeFSRPayload(sig.DataType, raw)
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	if err := app.tw.FSR(uint16(signalID), sampleID, data); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	conn.WriteString("OK")
}

// decodeFSRPayload unpacks raw bytes into per-sample float64s for
// FSR, the RESP wire inverse of how a level-0 chunk payload is laid
// out. Sub-byte types (U1, U4) decode every byte of raw as fully
// packed, so the sample count is always a multiple of 8 (U1) or 2
// (U4); a partial final byte of samples can't be expressed over this
// wire format.
func decodeFSRPayload(dt dtype.DataType, raw []byte) ([]float64, error) {
	var n int
	switch dt.BitWidth {
	case 1, 4:
		perByte := 8 / int(dt.BitWidth)
		n = len(raw) * perByte
	default:
		bpe := dt.BytesForSamples(1)
		if bpe == 0 || len(raw)%bpe != 0 {
			return nil, fmt.Errorf("fsr: payload length %d is not a multiple of %d bytes for %s", len(raw), bpe, dt)
		}
		n = len(raw) / bpe
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = dt.ReadSample(raw, i)
	}
	return out, nil
}

// utc handles `UTC signal_id sample_id timestamp`.
func (app *App) utc(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, cmd)
		return
	}
	signalID, err := strconv.ParseUint(string(cmd.Args[1]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid signal_id: " + err.Error())
		return
	}
	sampleID, err := strconv.ParseInt(string(cmd.Args[2]), 10, 64)
	if err != nil {
		conn.WriteError("ERR invalid sample_id: " + err.Error())
		return
	}
	ts, err := strconv.ParseInt(string(cmd.Args[3]), 10, 64)
	if err != nil {
		conn.WriteError("ERR invalid timestamp: " + err.Error())
		return
	}
	if err := app.tw.UTC(uint16(signalID), sampleID, ts); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	conn.WriteString("OK")
}

// annotate handles `ANNOTATE signal_id timestamp y type group storage
// base64(payload)`.
func (app *App) annotate(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 8 {
		wrongArgs(conn, cmd)
		return
	}
	signalID, err := strconv.ParseUint(string(cmd.Args[1]), 10, 16)
	if err != nil {
		conn.WriteError("ERR invalid signal_id: " + err.Error())
		return
	}
	ts, err := strconv.ParseInt(string(cmd.Args[2]), 10, 64)
	if err != nil {
		conn.WriteError("ERR invalid timestamp: " + err.Error())
		return
	}
	y, err := strconv.ParseFloat(string(cmd.Args[3]), 32)
	if err != nil {
		conn.WriteError("ERR invalid y: " + err.Error())
		return
	}
	typ, err := strconv.ParseUint(string(cmd.Args[4]), 10, 8)
	if err != nil {
		conn.WriteError("ERR invalid type: " + err.Error())
		return
	}
	group, err := strconv.ParseUint(string(cmd.Args[5]), 10, 8)
	if err != nil {
		conn.WriteError("ERR invalid group: " + err.Error())
		return
	}
	storage, err := strconv.ParseUint(string(cmd.Args[6]), 10, 8)
	if err != nil {
		conn.WriteError("ERR invalid storage: " + err.Error())
		return
	}
	payload, err := base64.StdEncoding.DecodeString(string(cmd.Args[7]))
	if err != nil {
		conn.WriteError("ERR invalid base64 payload: " + err.Error())
		return
	}

	a := jls.Annotation{
		Timestamp: ts,
		Y:         float32(y),
		Type:      jls.AnnotationType(typ),
		GroupID:   uint8(group),
		Storage:   jls.AnnotationStorage(storage),
		Payload:   payload,
	}
	if err := app.tw.Annotation(uint16(signalID), a); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	conn.WriteString("OK")
}

// flush handles `FLUSH`, blocking until every queued command up to
// this point has been applied and synced.
func (app *App) flush(conn redcon.Conn, cmd redcon.Command) {
	if err := app.tw.Flush(); err != nil {
		conn.WriteError(fmt.Sprintf("ERR %s", err))
		return
	}
	conn.WriteString("OK")
}
