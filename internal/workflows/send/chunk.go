package send

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/checkpoint"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
)

// realtimeBufferMaxChars bounds the rolling association-output buffer used
// for in-flight dcm4che classification.
const realtimeBufferMaxChars = 200000

// Parse-exception extraction from dcm4che output.
var (
	scanFailRE            = regexp.MustCompile(`Failed to scan file (.+?):\s*(.+)$`)
	parseExceptionMarkers = []string{
		"DicomStreamException", "IllegalArgumentException", "EOFException", "Unrecognized VR code",
	}
)

// runState carries the mutable cursor of one send invocation across chunks.
type runState struct {
	w      *Workflow
	cfg    *config.Config
	driver toolkit.Driver

	run      string
	runDir   string
	tsMode   string
	sendMode string
	iuidMode string
	execMode string
	javaExec string

	isDcm4che    bool
	fileUnitMode bool

	totalItems  int
	selectedSet map[string]struct{}

	logPath     string
	eventsPath  string
	resultsPath string
	argsDir     string
	chunkCmdDir string

	store *checkpoint.Store

	itemCursor int
	unitCursor int
	sentOK     int
	warned     int
	failed     int
	warnCounts map[string]int

	interrupted bool

	chunkStartIndex    int
	attemptChunksTotal int
	totalChunks        int
}

func (rs *runState) logf(format string, args ...any) {
	rs.w.logf(format, args...)
}

func (rs *runState) event(eventType artifacts.EventType, message, ref string) {
	if err := artifacts.WriteEvent(rs.eventsPath, rs.run, eventType, message, ref); err != nil {
		rs.logf("[WARN] Falha ao gravar evento %s: %v", eventType, err)
	}
}

func (rs *runState) publish(itemsDone, attemptChunk, chunkIndex int) {
	rs.w.Stream.Publish(progress.Update{
		ItemsDone:            itemsDone,
		ItemsTotal:           rs.totalItems,
		AttemptChunk:         attemptChunk,
		AttemptChunksTotal:   rs.attemptChunksTotal,
		TechnicalChunk:       chunkIndex,
		TechnicalChunksTotal: rs.totalChunks,
	})
}

// writeCheckpoint persists the progress cursor. In folder mode the unit
// cursor is the durable one; in file mode both track processed files.
func (rs *runState) writeCheckpoint(reason, filePath string) {
	doneUnits := rs.itemCursor
	if !rs.fileUnitMode {
		doneUnits = rs.unitCursor
	}

	mode := checkpoint.ModeItem
	if reason == checkpoint.ModeChunkSync {
		mode = checkpoint.ModeChunkSync
	}

	err := rs.store.Save(checkpoint.State{
		RunID:     rs.run,
		DoneUnits: doneUnits,
		DoneFiles: rs.itemCursor,
		Mode:      mode,
		Reason:    reason,
	})
	if err != nil {
		rs.logf("[WARN] Falha ao gravar checkpoint: %v", err)

		return
	}

	if reason == checkpoint.ModeItem {
		display := filePath
		if display == "" {
			display = "N/A"
		}

		rs.logf("[SEND_CHECKPOINT_ITEM] processed_items=%d/%d done_units=%d file=%s",
			rs.itemCursor, rs.totalItems, doneUnits, display)
	}
}

// tally updates the run counters for one settled file.
func (rs *runState) tally(ctx context.Context, status string) {
	switch {
	case status == artifacts.SendStatusSentOK:
		rs.sentOK++
	case artifacts.IsWarningSendStatus(status):
		rs.warned++
		rs.warnCounts[status]++
	default:
		rs.failed++
	}

	rs.w.Metrics.RecordFile(ctx, status)
}

func (rs *runState) writeResult(row artifacts.Row) error {
	return artifacts.AppendRow(rs.resultsPath, row, resultFields)
}

func (rs *runState) resultRow(filePath string, chunkIndex int, status, detail, iuid, tsUID, tsName, extractStatus string) artifacts.Row {
	return artifacts.Row{
		"run_id":           rs.run,
		"file_path":        filePath,
		"chunk_no":         itoa(chunkIndex),
		"toolkit":          rs.cfg.Toolkit,
		"ts_mode":          rs.tsMode,
		"send_status":      status,
		"status_detail":    detail,
		"sop_instance_uid": iuid,
		"source_ts_uid":    tsUID,
		"source_ts_name":   tsName,
		"extract_status":   extractStatus,
		"processed_at":     runclock.NowBR(),
	}
}

func (rs *runState) fileErrorEvent(chunkIndex int, filePath, detail, status string) {
	msg := detail
	if msg == "" {
		msg = status
	}

	rs.event(artifacts.EventSendFileError, msg,
		fmt.Sprintf("chunk_no=%d;file_path=%s;error_type=%s", chunkIndex, filePath, status))
}

// runChunk spawns and settles one sub-chunk.
func (rs *runState) runChunk(ctx context.Context, chunkIndex int, pc plannedChunk) error {
	attemptChunkNo := chunkIndex - rs.chunkStartIndex + 1

	batchFileSet := make(map[string]struct{}, len(pc.files))
	for _, fp := range pc.files {
		batchFileSet[fp] = struct{}{}
	}

	firstItem := rs.itemCursor + 1

	lastItem := rs.itemCursor + len(pc.files)
	if lastItem > rs.totalItems {
		lastItem = rs.totalItems
	}

	rs.publish(firstItem, attemptChunkNo, chunkIndex)

	splitInfo := ""
	if pc.splitTotal > 1 {
		splitInfo = fmt.Sprintf(" split=%d/%d origin=%d", pc.splitPos, pc.splitTotal, pc.originChunk)
	}

	rs.logf("[CHUNK_START] chunk=%d/%d itens=%d-%d/%d units=%d files=%d%s",
		chunkIndex, rs.totalChunks, firstItem, lastItem, rs.totalItems, len(pc.inputs), len(pc.files), splitInfo)

	chunkExecMode := execModeToolkit
	if rs.isDcm4che {
		chunkExecMode = rs.execMode
	}

	rs.event(artifacts.EventChunkStart, "Chunk iniciado.",
		fmt.Sprintf("chunk_no=%d;items=%d;units=%d;exec_mode=%s;split_pos=%d;split_total=%d;origin_chunk=%d",
			chunkIndex, len(pc.files), len(pc.inputs), chunkExecMode, pc.splitPos, pc.splitTotal, pc.originChunk))

	argsFile := filepath.Join(rs.argsDir, fmt.Sprintf("batch_%06d.txt", chunkIndex))

	var argsContent strings.Builder
	for _, fp := range pc.files {
		argsContent.WriteString("\"" + fp + "\"\n")
	}

	if err := os.WriteFile(argsFile, []byte(argsContent.String()), 0o644); err != nil {
		return fmt.Errorf("write batch args file: %w", err)
	}

	var (
		cmd          []string
		javaArgsFile string
		err          error
	)

	cmdMode := execModeToolkit
	cmdBudget := toolkit.DirectCmdBudget

	switch {
	case rs.isDcm4che && rs.execMode == execModeJavaDirect:
		cmdMode = execModeJavaDirect

		d4, ok := rs.driver.(*toolkit.Dcm4cheDriver)
		if !ok {
			return fmt.Errorf("java direct mode requires the dcm4che driver")
		}

		cmd, javaArgsFile, err = d4.JavaDirectCommand(rs.cfg, rs.javaExec, pc.inputs, argsFile)
		if err != nil {
			return err
		}

		rs.logf("[JAVA_ARGFILE_WRITE] chunk=%d/%d file=%s escape=BACKSLASH_ESCAPED_QUOTED",
			chunkIndex, rs.totalChunks, javaArgsFile)
		rs.event(artifacts.EventChunkJavaArgfile, "Arquivo @argfile Java gerado para o chunk.",
			fmt.Sprintf("chunk_no=%d;java_args_file=%s;escape=BACKSLASH_ESCAPED_QUOTED", chunkIndex, javaArgsFile))
	case rs.isDcm4che:
		cmdMode = execModeCmdScript
		cmdBudget = rs.w.cmdBudget()

		cmd, err = rs.driver.SendCommand(rs.cfg, pc.inputs, "")
		if err != nil {
			return err
		}
	default:
		cmd, err = rs.driver.SendCommand(rs.cfg, pc.files, argsFile)
		if err != nil {
			return err
		}
	}

	cmdlineLen := toolkit.CommandLineLength(cmd)
	traceFile := filepath.Join(rs.chunkCmdDir, fmt.Sprintf("chunk_%06d.cmd.txt", chunkIndex))

	if err = rs.writeCommandTrace(traceFile, chunkIndex, cmdMode, cmd, cmdlineLen, cmdBudget, argsFile, javaArgsFile); err != nil {
		return err
	}

	rs.logf("[CHUNK_CMD] chunk=%d/%d mode=%s cmdline_len=%d budget=%d trace=%s",
		chunkIndex, rs.totalChunks, cmdMode, cmdlineLen, cmdBudget, traceFile)
	rs.event(artifacts.EventChunkCmdMeta, "Metadados de comando do chunk.",
		fmt.Sprintf("chunk_no=%d;mode=%s;cmdline_len=%d;budget=%d;trace=%s;args_file=%s;split_pos=%d;split_total=%d;origin_chunk=%d",
			chunkIndex, cmdMode, cmdlineLen, cmdBudget, traceFile, argsFile, pc.splitPos, pc.splitTotal, pc.originChunk))

	if cmdMode == execModeCmdScript && cmdlineLen > cmdBudget {
		rs.event(artifacts.EventChunkCmdOverLimit, "Comando acima do limite seguro.",
			fmt.Sprintf("chunk_no=%d;cmdline_len=%d;budget=%d", chunkIndex, cmdlineLen, cmdBudget))

		return fmt.Errorf("chunk %d exceeded the safe command-line limit: cmdline_len=%d budget=%d",
			chunkIndex, cmdlineLen, cmdBudget)
	}

	rawLog, err := os.OpenFile(rs.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open toolkit log: %w", err)
	}
	defer rawLog.Close()

	dcm4cheRealtimeOn := rs.isDcm4che && rs.iuidMode == runclock.IUIDUpdateRealtime
	dcmtkRealtimeOn := !rs.isDcm4che

	rt := &dcm4cheRealtime{
		rs:             rs,
		ctx:            ctx,
		chunkIndex:     chunkIndex,
		attemptChunkNo: attemptChunkNo,
		batchFiles:     pc.files,
		fileByIUID:     make(map[string]string),
		seenRQ:         make(map[string]struct{}),
		seenOK:         make(map[string]struct{}),
		seenErr:        make(map[string]struct{}),
		written:        make(map[string]struct{}),
	}

	for _, fp := range pc.files {
		if toolkit.LooksLikeDICOMPayloadFile(fp) {
			rt.payloadFiles = append(rt.payloadFiles, fp)
		}
	}

	dcmtkWritten := make(map[string]struct{})
	dcmtkCurrentFile := ""

	onLine := func(line string) {
		switch {
		case dcm4cheRealtimeOn:
			rt.processLine(line)
		case dcmtkRealtimeOn:
			if file, ok := toolkit.MatchDcmtkSendingFile(line); ok {
				dcmtkCurrentFile = file

				rs.logf("[DCMTK_RT_PROGRESS] chunk=%d/%d sending=%s", chunkIndex, rs.totalChunks, file)
			}

			if badFile, detail, ok := toolkit.MatchDcmtkBadFile(line); ok {
				rs.writeDcmtkRealtimeRow(ctx, chunkIndex, attemptChunkNo, batchFileSet, dcmtkWritten,
					badFile, artifacts.SendStatusNonDICOM, detail)

				if dcmtkCurrentFile == badFile {
					dcmtkCurrentFile = ""
				}
			}

			if detail, ok := toolkit.MatchDcmtkStoreResponse(line); ok && dcmtkCurrentFile != "" {
				status := toolkit.ClassifyDcmtkResponse(detail, dcmtkCurrentFile)
				rs.writeDcmtkRealtimeRow(ctx, chunkIndex, attemptChunkNo, batchFileSet, dcmtkWritten,
					dcmtkCurrentFile, status, detail)

				dcmtkCurrentFile = ""
			}
		}

		rs.w.Stream.Log(line)
	}

	onKill := func(pid int) {
		rs.logf("[SEND_CANCEL_FORCE_KILL] chunk=%d/%d pid=%d", chunkIndex, rs.totalChunks, pid)
		rs.event(artifacts.EventSendCancelForceKill, "Processo da toolkit finalizado por cancelamento.",
			fmt.Sprintf("chunk_no=%d;pid=%d", chunkIndex, pid))
	}

	outcome, err := runChunkProcess(func() bool { return ctx.Err() != nil }, cmd, rawLog, onLine, onKill)
	if err != nil {
		return err
	}

	if outcome.Interrupted {
		rs.interrupted = true

		rs.logf("[SEND_CANCELLED_IMMEDIATE] chunk=%d/%d processed_items=%d/%d",
			chunkIndex, rs.totalChunks, rs.itemCursor, rs.totalItems)
		rs.w.Metrics.RecordChunk(ctx, "interrupted")

		return nil
	}

	parseNotes := collectParseExceptions(outcome.Lines)

	parsed := rs.driver.ParseSendOutput(outcome.Lines, pc.files)

	if rs.isDcm4che {
		rs.reconcileDcm4che(ctx, chunkIndex, attemptChunkNo, pc, parsed.Batch, rt.written, parseNotes, outcome.ExitCode)
	} else {
		rs.reconcileDcmtk(ctx, chunkIndex, attemptChunkNo, pc, parsed.ByFile, dcmtkWritten, parseNotes)
	}

	rs.unitCursor += len(pc.inputs)
	rs.writeCheckpoint(checkpoint.ModeChunkSync, "")

	rs.event(artifacts.EventChunkEnd, "Chunk concluido.",
		fmt.Sprintf("chunk_no=%d;exit_code=%d;exec_mode=%s;split_pos=%d;split_total=%d;origin_chunk=%d",
			chunkIndex, outcome.ExitCode, chunkExecMode, pc.splitPos, pc.splitTotal, pc.originChunk))
	rs.logf("[CHUNK_END] chunk=%d/%d exit_code=%d processed_items=%d/%d exec_mode=%s",
		chunkIndex, rs.totalChunks, outcome.ExitCode, rs.itemCursor, rs.totalItems, chunkExecMode)

	chunkOutcome := "ok"
	if outcome.ExitCode != 0 {
		chunkOutcome = "fail"
	}

	rs.w.Metrics.RecordChunk(ctx, chunkOutcome)

	return nil
}

func (rs *runState) writeCommandTrace(traceFile string, chunkIndex int, cmdMode string, cmd []string, cmdlineLen, budget int, argsFile, javaArgsFile string) error {
	if err := os.MkdirAll(filepath.Dir(traceFile), 0o755); err != nil {
		return fmt.Errorf("prepare chunk command dir: %w", err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "chunk=%d/%d\n", chunkIndex, rs.totalChunks)
	fmt.Fprintf(&b, "mode=%s\n", cmdMode)
	fmt.Fprintf(&b, "cmdline_len=%d\n", cmdlineLen)
	fmt.Fprintf(&b, "budget=%d\n", budget)
	fmt.Fprintf(&b, "batch_args_file=%s\n", argsFile)

	if javaArgsFile != "" {
		fmt.Fprintf(&b, "java_args_file=%s\n", javaArgsFile)
	}

	b.WriteString("\n[command]\n")
	b.WriteString(toolkit.FormatCommandLine(cmd))
	b.WriteString("\n")

	if javaArgsFile != "" {
		if content, err := os.ReadFile(javaArgsFile); err == nil {
			b.WriteString("\n[java_args_file_content]\n")
			b.Write(content)
		}
	}

	err := os.WriteFile(traceFile, []byte(b.String()), 0o644)
	if err != nil {
		return fmt.Errorf("write chunk command trace: %w", err)
	}

	return nil
}

// dcm4cheRealtime classifies association output while the child still runs,
// pairing request IUIDs to payload-looking files in order and settling files
// as soon as their response arrives.
type dcm4cheRealtime struct {
	rs             *runState
	ctx            context.Context
	chunkIndex     int
	attemptChunkNo int

	batchFiles    []string
	payloadFiles  []string
	payloadCursor int

	fileByIUID map[string]string
	seenRQ     map[string]struct{}
	seenOK     map[string]struct{}
	seenErr    map[string]struct{}
	written    map[string]struct{}

	buffer string
}

func (rt *dcm4cheRealtime) processLine(line string) {
	if !strings.Contains(line, "C-STORE-") && !strings.Contains(line, "iuid=") && !strings.Contains(line, "status=") {
		return
	}

	rt.buffer += line + "\n"
	if len(rt.buffer) > realtimeBufferMaxChars {
		rt.buffer = rt.buffer[len(rt.buffer)-realtimeBufferMaxChars:]
	}

	corr := toolkit.ParseDcm4cheBlob(rt.buffer)

	for _, raw := range corr.RQIUIDs {
		iuid := toolkit.SanitizeUID(raw)
		if iuid == "" {
			continue
		}

		if _, seen := rt.seenRQ[iuid]; seen {
			continue
		}

		rt.seenRQ[iuid] = struct{}{}

		if _, mapped := rt.fileByIUID[iuid]; mapped {
			continue
		}

		if rt.payloadCursor < len(rt.payloadFiles) {
			file := rt.payloadFiles[rt.payloadCursor]
			rt.payloadCursor++
			rt.fileByIUID[iuid] = file

			rt.rs.logf("[SEND_IUID_RT_MATCH] chunk=%d/%d kind=RQ iuid=%s file=%s",
				rt.chunkIndex, rt.rs.totalChunks, iuid, file)
		} else {
			rt.rs.logf("[SEND_IUID_RT_MISS] chunk=%d/%d kind=RQ iuid=%s reason=payload_cursor_exhausted",
				rt.chunkIndex, rt.rs.totalChunks, iuid)
		}
	}

	for _, raw := range corr.OKIUIDs {
		iuid := toolkit.SanitizeUID(raw)
		if iuid == "" {
			continue
		}

		if _, seen := rt.seenOK[iuid]; seen {
			continue
		}

		rt.seenOK[iuid] = struct{}{}

		file := rt.fileByIUID[iuid]
		if file == "" {
			rt.rs.logf("[SEND_IUID_RT_MISS] chunk=%d/%d kind=RSP_OK iuid=%s reason=file_mapping_not_found",
				rt.chunkIndex, rt.rs.totalChunks, iuid)

			continue
		}

		rt.rs.logf("[SEND_IUID_RT_MATCH] chunk=%d/%d kind=RSP_OK iuid=%s file=%s",
			rt.chunkIndex, rt.rs.totalChunks, iuid, file)
		rt.writeRow(file, iuid, artifacts.SendStatusSentOK, artifacts.ExtractOKFromStorescuRT, "rsp_status=0H")
	}

	for _, raw := range corr.ErrIUIDs {
		iuid := toolkit.SanitizeUID(raw)
		if iuid == "" {
			continue
		}

		if _, seen := rt.seenErr[iuid]; seen {
			continue
		}

		rt.seenErr[iuid] = struct{}{}

		status := corr.ErrStatusByIUID[iuid]
		if status == "" {
			status = "UNKNOWN"
		}

		file := rt.fileByIUID[iuid]
		if file == "" {
			rt.rs.logf("[SEND_IUID_RT_MISS] chunk=%d/%d kind=RSP_ERR iuid=%s status=%s reason=file_mapping_not_found",
				rt.chunkIndex, rt.rs.totalChunks, iuid, status)

			continue
		}

		rt.rs.logf("[SEND_IUID_RT_MATCH] chunk=%d/%d kind=RSP_ERR iuid=%s status=%s file=%s",
			rt.chunkIndex, rt.rs.totalChunks, iuid, status, file)
		rt.writeRow(file, iuid, artifacts.SendStatusSendFail, artifacts.ExtractErrFromStorescuRT, "rsp_status="+status)
	}
}

func (rt *dcm4cheRealtime) writeRow(filePath, observedIUID, status, extractStatus, detailSuffix string) {
	rs := rt.rs

	if _, done := rt.written[filePath]; done {
		return
	}

	var meta toolkit.Metadata

	metaErr := ""

	if m, err := rs.driver.ExtractMetadata(rt.ctx, rs.cfg, filePath); err != nil {
		metaErr = err.Error()
	} else {
		meta = m
	}

	srcIUID := toolkit.SanitizeUID(meta.IUID)
	srcTSUID := toolkit.SanitizeUID(meta.TSUID)
	srcTSName := toolkit.SanitizeUID(meta.TSName)

	rowIUID := toolkit.SanitizeUID(observedIUID)
	if rowIUID == "" {
		rowIUID = srcIUID
	}

	if rowIUID == "" {
		rowIUID = toolkit.SanitizeUID(filepath.Base(filePath))
	}

	detail := "dcm4che realtime_iuid=ON;" + detailSuffix
	if metaErr != "" {
		detail += ";meta_err=" + metaErr
	}

	if err := rs.writeResult(rs.resultRow(filePath, rt.chunkIndex, status, detail, rowIUID, srcTSUID, srcTSName, extractStatus)); err != nil {
		rs.logf("[WARN] Falha ao gravar resultado realtime: %v", err)

		return
	}

	rs.tally(rt.ctx, status)

	if status != artifacts.SendStatusSentOK {
		rs.fileErrorEvent(rt.chunkIndex, filePath, detail, status)
	}

	rs.event(artifacts.EventSendIUIDRealtime, "IUID registrado em tempo real.",
		fmt.Sprintf("chunk_no=%d;file_path=%s;iuid=%s;status=%s", rt.chunkIndex, filePath, rowIUID, status))
	rs.logf("[SEND_IUID_REALTIME] chunk=%d/%d status=%s iuid=%s file=%s",
		rt.chunkIndex, rs.totalChunks, status, rowIUID, filePath)

	rt.written[filePath] = struct{}{}
	rs.itemCursor++
	rs.publish(rs.itemCursor, rt.attemptChunkNo, rt.chunkIndex)
	rs.writeCheckpoint(checkpoint.ModeItem, filePath)
}

func (rs *runState) writeDcmtkRealtimeRow(ctx context.Context, chunkIndex, attemptChunkNo int,
	batchFileSet map[string]struct{}, written map[string]struct{}, filePath, status, detail string) {
	if _, done := written[filePath]; done {
		return
	}

	if _, inBatch := batchFileSet[filePath]; !inBatch {
		rs.logf("[DCMTK_RT_ITEM_MISS] chunk=%d/%d file=%s reason=not_in_batch", chunkIndex, rs.totalChunks, filePath)

		return
	}

	var meta toolkit.Metadata

	metaErr := ""

	if m, err := rs.driver.ExtractMetadata(ctx, rs.cfg, filePath); err != nil {
		metaErr = err.Error()
	} else {
		meta = m
	}

	extractStatus := ""

	switch {
	case meta.IUID != "":
		extractStatus = artifacts.ExtractOK
	case status == artifacts.SendStatusSentOK:
		extractStatus = artifacts.ExtractMissingIUID
	}

	if metaErr != "" && status == artifacts.SendStatusSentOK {
		detail = strings.Trim(detail+" | "+metaErr, " |")
	}

	if status == artifacts.SendStatusSentUnknown && detail == "" {
		detail = "parse_status=UNKNOWN;reason=no_match_in_output"
	}

	if status == artifacts.SendStatusSentUnknown {
		rs.logf("[DCMTK_STATUS_DETAIL_ENRICHED] file=%s reason=%s", filePath, detail)
	}

	if err := rs.writeResult(rs.resultRow(filePath, chunkIndex, status, detail, meta.IUID, meta.TSUID, meta.TSName, extractStatus)); err != nil {
		rs.logf("[WARN] Falha ao gravar resultado realtime: %v", err)

		return
	}

	rs.tally(ctx, status)

	if status != artifacts.SendStatusSentOK {
		rs.fileErrorEvent(chunkIndex, filePath, detail, status)
	}

	written[filePath] = struct{}{}
	rs.itemCursor++

	rs.logf("[DCMTK_RT_ITEM_WRITE] chunk=%d/%d status=%s file=%s", chunkIndex, rs.totalChunks, status, filePath)
	rs.publish(rs.itemCursor, attemptChunkNo, chunkIndex)
	rs.writeCheckpoint(checkpoint.ModeItem, filePath)
	rs.logf("[DCMTK_RT_CHECKPOINT] chunk=%d/%d processed_items=%d/%d file=%s",
		chunkIndex, rs.totalChunks, rs.itemCursor, rs.totalItems, filePath)
}

// reconcileDcm4che settles every file the realtime pass left open, pairing
// the batch's IUID evidence to files by metadata, filename, or request order.
func (rs *runState) reconcileDcm4che(ctx context.Context, chunkIndex, attemptChunkNo int, pc plannedChunk,
	corr *toolkit.BatchCorrelation, realtimeWritten map[string]struct{}, parseNotes map[string][]string, exitCode int) {
	if corr == nil {
		corr = &toolkit.BatchCorrelation{ErrStatusByIUID: make(map[string]string)}
	}

	var rqIUIDs []string

	rqSet := make(map[string]struct{})

	for _, raw := range corr.RQIUIDs {
		if iuid := toolkit.SanitizeUID(raw); iuid != "" {
			rqIUIDs = append(rqIUIDs, iuid)
			rqSet[iuid] = struct{}{}
		}
	}

	okSet := make(map[string]struct{}, len(corr.OKIUIDs))
	for _, iuid := range corr.OKIUIDs {
		okSet[iuid] = struct{}{}
	}

	errSet := make(map[string]struct{}, len(corr.ErrIUIDs))
	for _, iuid := range corr.ErrIUIDs {
		errSet[iuid] = struct{}{}
	}

	// Deterministic fallback: align the request IUID sequence with the
	// payload-looking files of the batch, in order.
	inferredByFile := make(map[string]string)
	rqCursor := 0

	for _, fp := range pc.files {
		if !toolkit.LooksLikeDICOMPayloadFile(fp) {
			continue
		}

		if rqCursor >= len(rqIUIDs) {
			break
		}

		inferredByFile[fp] = rqIUIDs[rqCursor]
		rqCursor++
	}

	for _, fp := range pc.files {
		if _, done := realtimeWritten[fp]; done {
			continue
		}

		rs.itemCursor++

		var meta toolkit.Metadata

		metaErr := ""

		if m, err := rs.driver.ExtractMetadata(ctx, rs.cfg, fp); err != nil {
			metaErr = err.Error()
		} else {
			meta = m
		}

		srcIUID := toolkit.NormalizeUIDCandidate(meta.IUID)
		srcTSUID := toolkit.NormalizeUIDCandidate(meta.TSUID)
		srcTSName := toolkit.NormalizeUIDCandidate(meta.TSName)

		uidSource := "NONE"
		uidFromFilename := false

		if srcIUID != "" {
			uidSource = "METADATA"
		}

		// Many archives embed the SOP Instance UID in the filename.
		if srcIUID == "" && toolkit.LooksLikeDICOMPayloadFile(fp) {
			srcIUID = toolkit.NormalizeUIDCandidate(filepath.Base(fp))
			if srcIUID != "" {
				uidSource = "FILENAME_FALLBACK"
				uidFromFilename = true
			}
		}

		srcIUIDPrev := ""
		uidWasInferred := false

		inferred := inferredByFile[fp]

		_, inOK := okSet[srcIUID]
		_, inErr := errSet[srcIUID]
		_, inRQ := rqSet[srcIUID]

		if inferred != "" && (srcIUID == "" || (!inOK && !inErr && !inRQ)) {
			if srcIUID != "" && srcIUID != inferred {
				srcIUIDPrev = srcIUID
			}

			srcIUID = inferred
			uidWasInferred = true
			uidSource = "RQ_ORDER"

			_, inOK = okSet[srcIUID]
			_, inErr = errSet[srcIUID]
			_, inRQ = rqSet[srcIUID]
		}

		detail := fmt.Sprintf("dcm4che parse: iuid_mode=%s;rq_iuids=%d;ok_iuids=%d;err_iuids=%d;exit_code=%d",
			rs.iuidMode, len(rqSet), len(corr.OKIUIDs), len(corr.ErrIUIDs), exitCode)

		if metaErr != "" {
			detail += ";meta_err=" + metaErr
		}

		switch {
		case srcIUIDPrev != "":
			detail += fmt.Sprintf(";uid_override=%s->%s", srcIUIDPrev, srcIUID)
		case uidWasInferred:
			detail += ";uid_inferred=RQ_ORDER"
		}

		if srcIUID == "" {
			detail += ";uid_extract=EMPTY"
		}

		var status, extractStatus string

		switch {
		case srcIUID != "" && inOK:
			status = artifacts.SendStatusSentOK
			extractStatus = artifacts.ExtractOKFromStorescu
		case srcIUID != "" && inErr:
			status = artifacts.SendStatusSendFail
			extractStatus = artifacts.ExtractErrFromStorescu

			rspStatus := corr.ErrStatusByIUID[srcIUID]
			if rspStatus == "" {
				rspStatus = "UNKNOWN"
			}

			detail += ";rsp_status=" + rspStatus
		case srcIUID != "" && inRQ:
			// Request observed but no settling response in the output.
			status = artifacts.SendStatusSentUnknown
			extractStatus = artifacts.ExtractRequestedNoRsp
		case exitCode != 0:
			status = artifacts.SendStatusSendFail
			extractStatus = artifacts.ExtractProcessExitFail
		default:
			status = artifacts.SendStatusSentUnknown
			extractStatus = artifacts.ExtractNoMatch
			detail += ";uid_source=" + uidSource

			if srcIUID != "" && !inOK && !inErr && !inRQ {
				srcIUID = ""
				detail += ";uid_persisted=NO"
				extractStatus = artifacts.ExtractNoMatchUIDUnconfirmd
			} else if srcIUID != "" {
				detail += ";uid_persisted=YES"
			}

			if uidFromFilename && srcIUID == "" {
				detail += ";uid_filename_fallback_rejected=YES"
			}
		}

		rs.tally(ctx, status)

		if err := rs.writeResult(rs.resultRow(fp, chunkIndex, status, detail, srcIUID, srcTSUID, srcTSName, extractStatus)); err != nil {
			rs.logf("[WARN] Falha ao gravar resultado: %v", err)
		}

		if status != artifacts.SendStatusSentOK {
			if status == artifacts.SendStatusSentUnknown {
				persisted := "NO"
				if srcIUID != "" {
					persisted = "YES"
				}

				rs.logf("[SEND_UID_SOURCE] file=%s source=%s persisted=%s extract_status=%s",
					fp, uidSource, persisted, extractStatus)
			}

			rs.fileErrorEvent(chunkIndex, fp, detail, status)
		}

		if srcIUID != "" && (status == artifacts.SendStatusSentUnknown || status == artifacts.SendStatusSendFail) && !inOK {
			rs.logf("[SEND_PARSE_MISMATCH] file=%s iuid=%s mode=%s status=%s extract_status=%s",
				fp, srcIUID, rs.sendMode, status, extractStatus)
		} else if srcIUID == "" {
			if strings.ToUpper(filepath.Base(fp)) == "DICOMDIR" {
				rs.warnCounts[warnUIDEmptyExpected]++
				rs.logf("[SEND_PARSE_UID_EMPTY_EXPECTED] file=%s mode=%s status=%s extract_status=%s",
					fp, rs.sendMode, status, extractStatus)
			} else {
				rs.warnCounts[warnUIDEmptyUnexpected]++
				rs.logf("[SEND_PARSE_UID_EMPTY] file=%s mode=%s status=%s extract_status=%s",
					fp, rs.sendMode, status, extractStatus)
			}
		}

		rs.noteParseExceptions(chunkIndex, fp, parseNotes)
		rs.publish(rs.itemCursor, attemptChunkNo, chunkIndex)
		rs.writeCheckpoint(checkpoint.ModeItem, fp)
	}
}

// reconcileDcmtk settles files the realtime line pass did not write.
func (rs *runState) reconcileDcmtk(ctx context.Context, chunkIndex, attemptChunkNo int, pc plannedChunk,
	byFile map[string]toolkit.FileOutcome, written map[string]struct{}, parseNotes map[string][]string) {
	for _, fp := range pc.files {
		if _, done := written[fp]; done {
			continue
		}

		rs.itemCursor++

		outcome, ok := byFile[fp]
		if !ok {
			outcome = toolkit.FileOutcome{SendStatus: artifacts.SendStatusSentUnknown}
		}

		status := outcome.SendStatus
		detail := outcome.StatusDetail

		var meta toolkit.Metadata

		metaErr := ""

		if m, err := rs.driver.ExtractMetadata(ctx, rs.cfg, fp); err != nil {
			metaErr = err.Error()
		} else {
			meta = m
		}

		extractStatus := ""

		switch {
		case meta.IUID != "":
			extractStatus = artifacts.ExtractOK
		case status == artifacts.SendStatusSentOK:
			extractStatus = artifacts.ExtractMissingIUID
		}

		if metaErr != "" && status == artifacts.SendStatusSentOK {
			detail = strings.Trim(detail+" | "+metaErr, " |")
		}

		if status == artifacts.SendStatusSentUnknown && detail == "" {
			detail = "parse_status=UNKNOWN;reason=no_match_in_output"
		}

		if status == artifacts.SendStatusSentUnknown && detail != "" {
			rs.logf("[DCMTK_STATUS_DETAIL_ENRICHED] file=%s reason=%s", fp, detail)
		}

		rs.tally(ctx, status)

		if err := rs.writeResult(rs.resultRow(fp, chunkIndex, status, detail, meta.IUID, meta.TSUID, meta.TSName, extractStatus)); err != nil {
			rs.logf("[WARN] Falha ao gravar resultado: %v", err)
		}

		if status != artifacts.SendStatusSentOK {
			rs.fileErrorEvent(chunkIndex, fp, detail, status)
		}

		rs.noteParseExceptions(chunkIndex, fp, parseNotes)
		rs.publish(rs.itemCursor, attemptChunkNo, chunkIndex)
		rs.writeCheckpoint(checkpoint.ModeItem, fp)
	}
}

func (rs *runState) noteParseExceptions(chunkIndex int, filePath string, parseNotes map[string][]string) {
	notes := parseNotes[filePath]
	if len(notes) == 0 {
		return
	}

	rs.warnCounts[warnParseException]++
	rs.event(artifacts.EventSendParseException, notes[0],
		fmt.Sprintf("chunk_no=%d;file_path=%s;errors=%d", chunkIndex, filePath, len(notes)))
}

// collectParseExceptions groups scanner failures and their exception lines by
// the file the output attributes them to.
func collectParseExceptions(lines []string) map[string][]string {
	byFile := make(map[string][]string)
	currentFile := ""

	for _, line := range lines {
		if m := scanFailRE.FindStringSubmatch(line); m != nil {
			currentFile = strings.TrimSpace(m[1])
			byFile[currentFile] = append(byFile[currentFile], strings.TrimSpace(m[2]))

			continue
		}

		if currentFile == "" {
			continue
		}

		for _, marker := range parseExceptionMarkers {
			if strings.Contains(line, marker) {
				byFile[currentFile] = append(byFile[currentFile], strings.TrimSpace(line))

				break
			}
		}
	}

	return byFile
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}

	return n, true
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func roundSec(d time.Duration) float64 {
	sec := d.Seconds()
	if sec < 0 {
		sec = 0
	}

	return math.Round(sec*1000) / 1000
}

func formatSec(sec float64) string {
	return strconv.FormatFloat(sec, 'f', -1, 64)
}
