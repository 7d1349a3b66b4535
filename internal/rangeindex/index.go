package rangeindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/btree"

	"ipinfo/internal/logger"
)

// ConstructionError：输入批次中存在非法区间（Start > End），本轮构建失败
// 约束：仅影响当前刷新周期，上一轮索引由刷新层继续保留
type ConstructionError struct {
	Binding  string
	Position int
	Range    Range
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%v: build %s: record %d has start %s > end %s", ErrInvalidRange, e.Binding, e.Position, e.Range.Start, e.Range.End)
}

func (e *ConstructionError) Unwrap() error { return ErrInvalidRange }

// Entry：索引条目；Range 为生效区间（可能被后续更宽的记录裁剪），Record.Range 保留数据源原始区间
type Entry struct {
	Range  Range
	Record Record
}

// BuildStats：单次构建的裁决统计，供日志与指标使用
type BuildStats struct {
	Input     int
	Inserted  int
	Kept      int
	Replaced  int
	Trimmed   int
	Anomalies int
}

// Index：不可变地址段索引
// 背景：条目按起始地址有序且互不重叠，查询使用二分定位（与内存分片缓存的 sort.Search 做法一致）
type Index struct {
	name    string
	entries []Entry
	stats   BuildStats
}

func entryLess(a, b Entry) bool { return a.Range.Start < b.Range.Start }

// Build：按输入顺序构建索引
// 冲突裁决（顺序固定，数据源夹具依赖此顺序）：
//  1. 以新区间起点探测已有条目；未命中则直接写入
//  2. 已有条目覆盖新区间（含相等）：丢弃新记录
//  3. 新区间覆盖已有条目：以新记录替换
//  4. 部分重叠：丢弃新记录并告警（数据质量异常）；新区间未重叠的尾部一并丢弃
//
// 写入语义与有序区间表一致：被新区间完全覆盖的后续条目被移除，跨越新区间终点的条目被裁剪为从 End+1 开始。
// 异常：任一记录 Start > End 返回 *ConstructionError。
func Build(name string, records []Record) (*Index, error) {
	return BuildWithLogger(logger.L(), name, records)
}

// BuildWithLogger：同 Build，裁决日志写入 l（绑定自带的日志器）
func BuildWithLogger(l *slog.Logger, name string, records []Record) (*Index, error) {
	if l == nil {
		l = logger.L()
	}
	l = l.With("binding", name)
	debug := l.Enabled(context.Background(), slog.LevelDebug)
	tree := btree.NewG[Entry](32, entryLess)
	st := BuildStats{Input: len(records)}

	put := func(rec Record) {
		r := rec.Range
		var covered []Entry
		tree.AscendGreaterOrEqual(Entry{Range: Range{Start: r.Start}}, func(e Entry) bool {
			if e.Range.Start > r.End {
				return false
			}
			covered = append(covered, e)
			return true
		})
		for _, e := range covered {
			tree.Delete(e)
			if e.Range.End > r.End {
				e.Range.Start = r.End + 1
				tree.ReplaceOrInsert(e)
				st.Trimmed++
				if debug {
					l.Debug("range_trimmed", "new", r.String(), "existing", e.Record.Range.String(), "kept", e.Range.String())
				}
			}
		}
		tree.ReplaceOrInsert(Entry{Range: r, Record: rec})
	}

	for i, rec := range records {
		r := rec.Range
		if !r.Valid() {
			return nil, &ConstructionError{Binding: name, Position: i, Range: r}
		}
		var existing Entry
		found := false
		tree.DescendLessOrEqual(Entry{Range: Range{Start: r.Start}}, func(e Entry) bool {
			existing = e
			found = true
			return false
		})
		if !found || !existing.Range.Contains(r.Start) {
			put(rec)
			st.Inserted++
			continue
		}
		switch {
		case existing.Range.Encloses(r):
			st.Kept++
			if debug {
				l.Debug("range_existing_encloses", "new", r.String(), "existing", existing.Range.String())
			}
		case r.Encloses(existing.Range):
			put(rec)
			st.Replaced++
			if debug {
				l.Debug("range_new_encloses", "new", r.String(), "existing", existing.Range.String())
			}
		default:
			// WARNING: 新区间未与已有条目重叠的尾部同样被丢弃，不做部分合并
			st.Anomalies++
			l.Warn("range_overlap_anomaly", "new", r.String(), "existing", existing.Range.String())
		}
	}

	idx := &Index{name: name, entries: make([]Entry, 0, tree.Len()), stats: st}
	tree.Ascend(func(e Entry) bool {
		idx.entries = append(idx.entries, e)
		return true
	})
	l.Debug("range_index_built", "input", st.Input, "entries", len(idx.entries), "replaced", st.Replaced, "anomalies", st.Anomalies)
	return idx, nil
}

// Lookup：点查询，返回唯一包含 addr 的记录
func (x *Index) Lookup(addr Address) (Record, bool) {
	if x == nil {
		return Record{}, false
	}
	arr := x.entries
	i := sort.Search(len(arr), func(i int) bool { return arr[i].Range.Start > addr })
	if i == 0 {
		return Record{}, false
	}
	e := arr[i-1]
	if addr <= e.Range.End {
		return e.Record, true
	}
	return Record{}, false
}

func (x *Index) Name() string { return x.name }

func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

func (x *Index) Stats() BuildStats { return x.stats }

// Entries：返回条目副本（按起始地址升序）
func (x *Index) Entries() []Entry {
	out := make([]Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Records：返回各条目对应的记录（按生效区间升序）
func (x *Index) Records() []Record {
	out := make([]Record, len(x.entries))
	for i, e := range x.entries {
		out[i] = e.Record
	}
	return out
}
