// 包 ipip：读取与遍历 IPIP IPDB 数据文件，提供 IPv4 前缀叶子枚举
// 背景：围绕二叉前缀树的紧凑存储结构实现，只暴露只读 Reader 接口，降低误用风险与实现复杂度。
package ipip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"ipinfo/internal/logger"
)

var ErrFormat = errors.New("ipip: bad ipdb file")

// 文档注释：元信息结构（来自文件头部 JSON）
// 约束：字段列表与语言映射必须非空，否则视为文件不合法；TotalSize 用于强校验文件体积避免截断。
type meta struct {
	Build     int64          `json:"build"`
	IPVersion uint16         `json:"ip_version"`
	Languages map[string]int `json:"languages"`
	NodeCount int            `json:"node_count"`
	TotalSize int            `json:"total_size"`
	Fields    []string       `json:"fields"`
}

// Reader：只读 IPDB；v4offset 为 IPv4 根节点偏移
type Reader struct {
	nodeCount int
	v4offset  int
	meta      meta
	data      []byte
}

// Open：读取并解析 IPDB 文件
func Open(path string) (*Reader, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// 文档注释：解析 IPDB 字节内容
// 格式：4 字节（BE）元信息长度 + 元信息 JSON + 节点区（每节点 8 字节）+ 叶子数据区。
// NOTE: v4offset 由前 96 层（80 层左、16 层右，即 ::ffff:0:0/96）确定。
func Parse(body []byte) (*Reader, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: size %d", ErrFormat, len(body))
	}
	mlen := int(binary.BigEndian.Uint32(body[0:4]))
	if len(body) < 4+mlen {
		return nil, fmt.Errorf("%w: meta length %d", ErrFormat, mlen)
	}
	var m meta
	if err := jsoniter.Unmarshal(body[4:4+mlen], &m); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrFormat, err)
	}
	if len(m.Languages) == 0 || len(m.Fields) == 0 {
		return nil, fmt.Errorf("%w: meta without fields", ErrFormat)
	}
	if len(body) != 4+mlen+m.TotalSize {
		return nil, fmt.Errorf("%w: total size", ErrFormat)
	}
	r := &Reader{nodeCount: m.NodeCount, meta: m, data: body[4+mlen:]}
	node := 0
	for i := 0; i < 96 && node < r.nodeCount; i++ {
		if i >= 80 {
			node = r.readNode(node, 1)
		} else {
			node = r.readNode(node, 0)
		}
	}
	r.v4offset = node
	logger.L().Debug("ipip_v4offset", "offset", r.v4offset, "nodes", r.nodeCount)
	return r, nil
}

// Fields：每条叶子数据的字段名
func (r *Reader) Fields() []string { return r.meta.Fields }

// Build：数据版本（Unix 秒）
func (r *Reader) Build() int64 { return r.meta.Build }

// languageOffset：目标语言缺失时回退到最小偏移
func (r *Reader) languageOffset(language string) int {
	if off, ok := r.meta.Languages[language]; ok {
		return off
	}
	have := false
	low := 0
	for _, v := range r.meta.Languages {
		if !have || v < low {
			low = v
			have = true
		}
	}
	return low
}

// readNode：index=0 读左指针，index=1 读右指针；越界返回原节点
func (r *Reader) readNode(node, index int) int {
	off := node*8 + index*4
	if off+4 > len(r.data) {
		return node
	}
	return int(binary.BigEndian.Uint32(r.data[off : off+4]))
}

// resolve：叶子以“长度(uint16 BE) + 数据”存储
func (r *Reader) resolve(node int) ([]byte, error) {
	resolved := node - r.nodeCount + r.nodeCount*8
	if resolved+2 > len(r.data) {
		return nil, fmt.Errorf("%w: leaf %d out of range", ErrFormat, node)
	}
	size := int(binary.BigEndian.Uint16(r.data[resolved : resolved+2]))
	if resolved+2+size > len(r.data) {
		return nil, fmt.Errorf("%w: leaf %d size", ErrFormat, node)
	}
	return r.data[resolved+2 : resolved+2+size], nil
}

// Leaf：IPv4 前缀叶子；Values 为按字段名解码后的目标语言取值
type Leaf struct {
	Prefix uint32
	Length int
	Values map[string]string
}

// 文档注释：枚举 IPv4 叶子（DFS 前序遍历，地址升序）
// 约束：空节点（指针等于节点数）跳过；fn 返回错误时立即停止并返回该错误。
func (r *Reader) WalkIPv4(language string, fn func(Leaf) error) error {
	off := r.languageOffset(language)
	cache := map[int]map[string]string{}
	var dfs func(node, depth int, prefix uint32) error
	dfs = func(node, depth int, prefix uint32) error {
		if node == r.nodeCount {
			return nil
		}
		if node > r.nodeCount {
			vals, ok := cache[node]
			if !ok {
				raw, err := r.resolve(node)
				if err != nil {
					return err
				}
				if vals, err = r.decode(raw, off); err != nil {
					return err
				}
				cache[node] = vals
			}
			return fn(Leaf{Prefix: prefix << (32 - depth), Length: depth, Values: vals})
		}
		if depth >= 32 {
			return nil
		}
		if err := dfs(r.readNode(node, 0), depth+1, prefix<<1); err != nil {
			return err
		}
		return dfs(r.readNode(node, 1), depth+1, prefix<<1|1)
	}
	return dfs(r.v4offset, 0, 0)
}

// decode：叶子数据为制表符分隔，按语言偏移截取字段；空值不输出
func (r *Reader) decode(raw []byte, off int) (map[string]string, error) {
	parts := strings.Split(string(raw), "\t")
	end := off + len(r.meta.Fields)
	if end > len(parts) {
		return nil, fmt.Errorf("%w: leaf has %d values, need %d", ErrFormat, len(parts), end)
	}
	out := make(map[string]string, len(r.meta.Fields))
	for i, f := range r.meta.Fields {
		if v := parts[off+i]; v != "" {
			out[f] = v
		}
	}
	return out, nil
}
