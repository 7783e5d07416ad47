package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/daviszhen/mvcc/pkg/util"
)

const (
	WAL_REDO   uint8 = 26
	WAL_COMMIT uint8 = 29
	WAL_FLUSH  uint8 = 100
)

func walType(walTyp uint8) string {
	switch walTyp {
	case WAL_REDO:
		return "WAL_REDO"
	case WAL_COMMIT:
		return "WAL_COMMIT"
	case WAL_FLUSH:
		return "WAL_FLUSH"
	default:
		return "unknown wal type"
	}
}

// WriteAheadLog is the durable sink redo records drain into at commit.
// Records of one transaction arrive in reservation order and are sealed
// by a commit marker carrying the commit timestamp.
type WriteAheadLog struct {
	_path        string
	_writer      *BufferedFileWriter
	_skipWriting bool
}

func NewWriteAheadLog(path string) (*WriteAheadLog, error) {
	log := &WriteAheadLog{
		_path: path,
	}
	writer, err := NewBufferedFileWriter(path)
	if err != nil {
		return nil, err
	}
	log._writer = writer
	return log, nil
}

func (log *WriteAheadLog) Close() error {
	return log._writer.Close()
}

// WriteRedo serializes one staged after-image: the slot coordinates, the
// projection shape, and the raw payload bytes behind the row header.
func (log *WriteAheadLog) WriteRedo(rec *RedoRecord) error {
	if log._skipWriting {
		return nil
	}
	err := util.Write[uint8](WAL_REDO, log._writer)
	if err != nil {
		return err
	}
	err = util.Write[TxnType](rec.StartTime(), log._writer)
	if err != nil {
		return err
	}
	err = util.Write[OidType](rec.Table().Oid(), log._writer)
	if err != nil {
		return err
	}
	err = util.Write[TupleSlot](rec.Slot(), log._writer)
	if err != nil {
		return err
	}
	row := rec.Row()
	err = util.Write[uint32](uint32(row.NumColumns()), log._writer)
	if err != nil {
		return err
	}
	for _, id := range row.ColumnIds() {
		err = util.Write[ColIdType](id, log._writer)
		if err != nil {
			return err
		}
	}
	return util.WritePtrBytes(row.payloadPointer(), row.payloadSize(), log._writer)
}

func (log *WriteAheadLog) WriteCommit(commitId TxnType) error {
	if log._skipWriting {
		return nil
	}
	err := util.Write[uint8](WAL_COMMIT, log._writer)
	if err != nil {
		return err
	}
	return util.Write[TxnType](commitId, log._writer)
}

func (log *WriteAheadLog) Flush() error {
	if log._skipWriting {
		return nil
	}
	err := util.Write[uint8](WAL_FLUSH, log._writer)
	if err != nil {
		return err
	}
	return log._writer.Sync()
}

func (log *WriteAheadLog) Truncate(sz int64) error {
	return log._writer.Truncate(uint64(sz))
}

func (log *WriteAheadLog) Delete() error {
	if log._writer == nil {
		return nil
	}
	err := log._writer.Close()
	if err != nil {
		return err
	}
	log._writer = nil
	return os.Remove(log._path)
}

func (log *WriteAheadLog) GetWalSize() int64 {
	sz, _ := log._writer.GetFileSize()
	return sz
}

// ReplayEntry is one decoded redo record from the log.
type ReplayEntry struct {
	StartTime TxnType
	Oid       OidType
	Slot      TupleSlot
	ColIds    []ColIdType
	Payload   []byte
}

// ReplayWal scans a log file front to back and invokes the callbacks per
// record. Unflushed tails after the last WAL_FLUSH marker are still
// surfaced; the caller decides what to trust.
func ReplayWal(
	path string,
	onRedo func(ReplayEntry) error,
	onCommit func(TxnType) error,
) error {
	reader, err := NewBufferedFileReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()
	for {
		var typ uint8
		err = util.Read[uint8](&typ, reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch typ {
		case WAL_REDO:
			var ent ReplayEntry
			if err = util.Read[TxnType](&ent.StartTime, reader); err != nil {
				return err
			}
			if err = util.Read[OidType](&ent.Oid, reader); err != nil {
				return err
			}
			if err = util.Read[TupleSlot](&ent.Slot, reader); err != nil {
				return err
			}
			var numCols uint32
			if err = util.Read[uint32](&numCols, reader); err != nil {
				return err
			}
			ent.ColIds = make([]ColIdType, numCols)
			for i := range ent.ColIds {
				if err = util.Read[ColIdType](&ent.ColIds[i], reader); err != nil {
					return err
				}
			}
			var plen uint32
			if err = util.Read[uint32](&plen, reader); err != nil {
				return err
			}
			ent.Payload = make([]byte, plen)
			if err = reader.ReadData(ent.Payload, int(plen)); err != nil {
				return err
			}
			if onRedo != nil {
				if err = onRedo(ent); err != nil {
					return err
				}
			}
		case WAL_COMMIT:
			var ts TxnType
			if err = util.Read[TxnType](&ts, reader); err != nil {
				return err
			}
			if onCommit != nil {
				if err = onCommit(ts); err != nil {
					return err
				}
			}
		case WAL_FLUSH:
		default:
			return fmt.Errorf("corrupt wal record type %s", walType(typ))
		}
	}
}

var _ util.Serialize = new(BufferedFileWriter)

type BufferedFileWriter struct {
	_path string
	_file *os.File
}

func NewBufferedFileWriter(path string) (*BufferedFileWriter, error) {
	var err error
	writer := &BufferedFileWriter{}
	writer._path = path

	writer._file, err = os.OpenFile(path,
		os.O_CREATE|os.O_RDWR|os.O_APPEND, 0755)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

func (writer *BufferedFileWriter) WriteData(buffer []byte, len int) error {
	w := 0
	for w < len {
		n, err := writer._file.Write(buffer[w:len])
		if err != nil {
			return err
		}
		w += n
	}
	return nil
}

func (writer *BufferedFileWriter) Sync() error {
	return writer._file.Sync()
}

func (writer *BufferedFileWriter) Truncate(sz uint64) error {
	return writer._file.Truncate(int64(sz))
}

func (writer *BufferedFileWriter) GetFileSize() (int64, error) {
	stat, err := writer._file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (writer *BufferedFileWriter) Close() error {
	err := writer._file.Sync()
	if err != nil {
		return err
	}
	return writer._file.Close()
}

var _ util.Deserialize = new(BufferedFileReader)

type BufferedFileReader struct {
	_path string
	_file *os.File
}

func NewBufferedFileReader(path string) (*BufferedFileReader, error) {
	var err error
	reader := &BufferedFileReader{}
	reader._path = path

	reader._file, err = os.OpenFile(path, os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

func (reader *BufferedFileReader) ReadData(buffer []byte, len int) error {
	r := 0
	for r < len {
		n, err := reader._file.Read(buffer[r:len])
		if err != nil {
			return err
		}
		r += n
	}
	return nil
}

func (reader *BufferedFileReader) Close() error {
	return reader._file.Close()
}
