package container

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

func init() {
	Register("bolt", &BoltBackend{Timeout: 5 * time.Second})
}

// BoltBackend keeps datasets in a bbolt database file. Each dataset is a
// bucket holding its element type, its extents and one record per row of
// the last dimension. Rows that were never written read as zero.
//
// bbolt locks the file, so only one process may have it open at a time.
type BoltBackend struct {
	// Timeout bounds the wait for the file lock, zero waits forever.
	Timeout time.Duration
}

var (
	datasetsBucket = []byte("datasets")
	dtypeKey       = []byte("dtype")
	dimsKey        = []byte("dims")
	rowsBucket     = []byte("rows")
)

func (b *BoltBackend) Ext() string { return ".db" }

func (b *BoltBackend) Create(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "truncating %q", path)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: b.Timeout})
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket(datasetsBucket)
		return err
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "creating %q", path)
}

func (b *BoltBackend) Open(path string, mode Mode) (File, error) {
	// bolt.Open would create a missing file
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: b.Timeout, ReadOnly: mode == ReadOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	err = db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(datasetsBucket) == nil {
			return errors.Errorf("%q is not a container file", path)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltFile{db: db, mode: mode}, nil
}

type boltFile struct {
	db   *bolt.DB
	mode Mode
}

func (f *boltFile) CreateDataset(name string, dtype DType, dims []int) (Dataset, error) {
	if f.mode != ReadWrite {
		return nil, errors.Errorf("creating dataset %q: container opened read-only", name)
	}
	if name == "" {
		return nil, errors.New("creating dataset: empty name")
	}
	if err := ValidateShape(dtype, dims); err != nil {
		return nil, errors.WithMessagef(err, "creating dataset %q", name)
	}
	err := f.db.Update(func(tx *bolt.Tx) error {
		ds, err := tx.Bucket(datasetsBucket).CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		if err := ds.Put(dtypeKey, []byte{byte(dtype)}); err != nil {
			return err
		}
		if err := ds.Put(dimsKey, encodeDims(dims)); err != nil {
			return err
		}
		_, err = ds.CreateBucket(rowsBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating dataset %q", name)
	}
	return &boltDataset{file: f, name: []byte(name), dtype: dtype, dims: append([]int(nil), dims...)}, nil
}

func (f *boltFile) OpenDataset(name string) (Dataset, error) {
	ds := &boltDataset{file: f, name: []byte(name)}
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(datasetsBucket).Bucket(ds.name)
		if b == nil {
			return errors.New("no such dataset")
		}
		dtype := b.Get(dtypeKey)
		if len(dtype) != 1 {
			return errors.New("corrupt element type")
		}
		ds.dtype = DType(dtype[0])
		dims, err := decodeDims(b.Get(dimsKey))
		if err != nil {
			return err
		}
		ds.dims = dims
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %q", name)
	}
	return ds, nil
}

func (f *boltFile) Close() error {
	return f.db.Close()
}

type boltDataset struct {
	file   *boltFile
	name   []byte
	dtype  DType
	dims   []int
	closed bool
}

func (d *boltDataset) DType() DType { return d.dtype }
func (d *boltDataset) Dims() []int  { return append([]int(nil), d.dims...) }

func (d *boltDataset) check(sel Hyperslab, data []int32) error {
	if d.closed {
		return errors.New("dataset is closed")
	}
	if d.dtype != Int32 {
		return errors.Errorf("dataset holds %s, not int32", d.dtype)
	}
	if err := sel.Validate(d.dims); err != nil {
		return err
	}
	if len(data) != sel.Len() {
		return errors.Errorf("buffer of %d elements for a selection of %d", len(data), sel.Len())
	}
	return nil
}

func (d *boltDataset) WriteHyperslab(sel Hyperslab, data []int32) error {
	if d.file.mode != ReadWrite {
		return errors.Errorf("writing dataset %q: container opened read-only", d.name)
	}
	if err := d.check(sel, data); err != nil {
		return errors.WithMessagef(err, "writing dataset %q", d.name)
	}
	rowLen := d.dims[len(d.dims)-1]
	err := d.file.db.Update(func(tx *bolt.Tx) error {
		rows := tx.Bucket(datasetsBucket).Bucket(d.name).Bucket(rowsBucket)
		return sel.Runs(d.dims, func(start, n, packed int) error {
			key := rowKey(start / rowLen)
			col := start % rowLen
			row := make([]byte, rowLen*4)
			copy(row, rows.Get(key))
			for i := 0; i < n; i++ {
				binary.LittleEndian.PutUint32(row[(col+i)*4:], uint32(data[packed+i]))
			}
			return rows.Put(key, row)
		})
	})
	return errors.Wrapf(err, "writing dataset %q", d.name)
}

func (d *boltDataset) ReadHyperslab(sel Hyperslab, data []int32) error {
	if err := d.check(sel, data); err != nil {
		return errors.WithMessagef(err, "reading dataset %q", d.name)
	}
	rowLen := d.dims[len(d.dims)-1]
	err := d.file.db.View(func(tx *bolt.Tx) error {
		rows := tx.Bucket(datasetsBucket).Bucket(d.name).Bucket(rowsBucket)
		return sel.Runs(d.dims, func(start, n, packed int) error {
			row := rows.Get(rowKey(start / rowLen))
			col := start % rowLen
			for i := 0; i < n; i++ {
				if row == nil {
					data[packed+i] = 0
					continue
				}
				data[packed+i] = int32(binary.LittleEndian.Uint32(row[(col+i)*4:]))
			}
			return nil
		})
	})
	return errors.Wrapf(err, "reading dataset %q", d.name)
}

func (d *boltDataset) Close() error {
	if d.closed {
		return errors.Errorf("dataset %q closed twice", d.name)
	}
	d.closed = true
	return nil
}

func rowKey(row int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(row))
	return key
}

func encodeDims(dims []int) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(dims)))
	for _, d := range dims {
		buf = binary.AppendUvarint(buf, uint64(d))
	}
	return buf
}

func decodeDims(buf []byte) ([]int, error) {
	n, k := binary.Uvarint(buf)
	if k <= 0 {
		return nil, errors.New("corrupt extents")
	}
	buf = buf[k:]
	dims := make([]int, n)
	for i := range dims {
		d, k := binary.Uvarint(buf)
		if k <= 0 {
			return nil, errors.New("corrupt extents")
		}
		dims[i] = int(d)
		buf = buf[k:]
	}
	return dims, nil
}
