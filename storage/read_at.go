// Copyright The ColumnScan Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/efficientgo/core/errcapture"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

// ReadAtWithContextCloser is a stateless io.ReaderAt factory. Readers obtained
// from WithContext can be used concurrently; Close releases the underlying
// resource once for all of them.
type ReadAtWithContextCloser interface {
	io.Closer
	WithContext(ctx context.Context) io.ReaderAt
}

type bucketReadAt struct {
	path string
	obj  objstore.BucketReader
}

func NewBucketReadAt(path string, obj objstore.BucketReader) ReadAtWithContextCloser {
	return &bucketReadAt{
		path: path,
		obj:  obj,
	}
}

func (b *bucketReadAt) WithContext(ctx context.Context) io.ReaderAt {
	return readAtFunc(func(p []byte, off int64) (_ int, err error) {
		rc, err := b.obj.GetRange(ctx, b.path, off, int64(len(p)))
		if err != nil {
			return 0, errors.Wrapf(err, "get range %s", b.path)
		}
		defer errcapture.Do(&err, rc.Close, "close range reader")

		n, err := io.ReadFull(rc, p)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return n, err
	})
}

// Close is a no-op; the bucket owns the connection.
func (b *bucketReadAt) Close() error {
	return nil
}

type fileReadAt struct {
	f *os.File
}

func NewFileReadAt(f *os.File) ReadAtWithContextCloser {
	return &fileReadAt{f: f}
}

func (f *fileReadAt) WithContext(ctx context.Context) io.ReaderAt {
	return readAtFunc(func(p []byte, off int64) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return f.f.ReadAt(p, off)
	})
}

func (f *fileReadAt) Close() error {
	return f.f.Close()
}

type readAtFunc func(p []byte, off int64) (int, error)

func (fn readAtFunc) ReadAt(p []byte, off int64) (int, error) {
	return fn(p, off)
}

// optimisticReaderAt reads the whole [from, to) window on first access and
// serves subsequent reads inside the window from memory. Reads outside the
// window fall through to the underlying reader.
type optimisticReaderAt struct {
	r    io.ReaderAt
	from int64
	to   int64

	once sync.Once
	buf  []byte
	err  error
}

func newOptimisticReaderAt(r io.ReaderAt, from, to int64) io.ReaderAt {
	if from >= to {
		return r
	}
	return &optimisticReaderAt{r: r, from: from, to: to}
}

func (o *optimisticReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.from && off+int64(len(p)) <= o.to {
		o.once.Do(func() {
			buf := make([]byte, o.to-o.from)
			n, err := o.r.ReadAt(buf, o.from)
			if err != nil && err != io.EOF {
				o.err = err
				return
			}
			o.buf = buf[:n]
		})
		if o.err != nil {
			return 0, o.err
		}
		start := off - o.from
		if start >= int64(len(o.buf)) {
			return 0, io.EOF
		}
		n := copy(p, o.buf[start:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}

	return o.r.ReadAt(p, off)
}
