// Package phpserialize 实现 PHP serialize()/unserialize() 的数据格式。
//
// 部分老旧支付网关要求请求参数以 PHP 序列化后再 base64 的形式放在 URL 中，
// 网关端直接 unserialize，任何一个字节长度算错都会导致整笔请求被拒。
// 编码规则与 PHP 7.1+ 保持一致：
//
//	null          N;
//	bool          b:1;
//	int           i:42;
//	float         d:0.1;
//	string        s:<字节长度>:"<原始字节>";
//	array         a:<元素数>:{<键><值>...}
//
// 关联数组的键顺序有意义（PHP 保留插入顺序），因此用 Array 表示有序数组。
package phpserialize

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// KeyValue 有序数组中的一个元素，Key 只能是 string 或整数
type KeyValue struct {
	Key   interface{}
	Value interface{}
}

// Array PHP 有序数组
type Array []KeyValue

// Get 按键取值
func (a Array) Get(key interface{}) (interface{}, bool) {
	want, err := normalizeKey(key)
	if err != nil {
		return nil, false
	}
	for _, kv := range a {
		k, err := normalizeKey(kv.Key)
		if err == nil && k == want {
			return kv.Value, true
		}
	}
	return nil, false
}

var (
	// ErrUnsupportedType 无法序列化的类型
	ErrUnsupportedType = errors.New("phpserialize: unsupported type")
	// ErrSyntax 反序列化输入不合法
	ErrSyntax = errors.New("phpserialize: syntax error")
)

// Marshal 序列化 Go 值
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("N;")
	case bool:
		if val {
			buf.WriteString("b:1;")
		} else {
			buf.WriteString("b:0;")
		}
	case string:
		writeString(buf, val)
	case []byte:
		writeString(buf, string(val))
	case float32:
		writeFloat(buf, float64(val))
	case float64:
		writeFloat(buf, val)
	case Array:
		return writeArray(buf, val)
	case []interface{}:
		arr := make(Array, len(val))
		for i, item := range val {
			arr[i] = KeyValue{Key: i, Value: item}
		}
		return writeArray(buf, arr)
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		arr := make(Array, len(keys))
		for i, k := range keys {
			arr[i] = KeyValue{Key: k, Value: val[k]}
		}
		return writeArray(buf, arr)
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		arr := make(Array, len(keys))
		for i, k := range keys {
			arr[i] = KeyValue{Key: k, Value: val[k]}
		}
		return writeArray(buf, arr)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			writeInt(buf, rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return fmt.Errorf("%w: uint %d overflows PHP int", ErrUnsupportedType, u)
			}
			writeInt(buf, int64(u))
		case reflect.String:
			writeString(buf, rv.String())
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
		}
	}
	return nil
}

func writeInt(buf *bytes.Buffer, n int64) {
	buf.WriteString("i:")
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte(';')
}

func writeString(buf *bytes.Buffer, s string) {
	// 长度是字节数，不是字符数
	buf.WriteString("s:")
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteString(`:"`)
	buf.WriteString(s)
	buf.WriteString(`";`)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteString("d:")
	buf.WriteString(formatFloat(f))
	buf.WriteByte(';')
}

// formatFloat 对应 PHP serialize_precision=-1 的输出
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e15 || abs < 1e-4) {
		// PHP 形如 1.0E+25、1.0E-5
		mantissa, exp := splitExponent(strconv.FormatFloat(f, 'e', -1, 64))
		if !bytes.ContainsRune([]byte(mantissa), '.') {
			mantissa += ".0"
		}
		return mantissa + "E" + exp
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func splitExponent(s string) (string, string) {
	idx := bytes.IndexByte([]byte(s), 'e')
	mantissa, exp := s[:idx], s[idx+1:]
	sign := exp[0]
	digits := exp[1:]
	for len(digits) > 1 && digits[0] == '0' {
		digits = digits[1:]
	}
	return mantissa, string(sign) + digits
}

func writeArray(buf *bytes.Buffer, arr Array) error {
	buf.WriteString("a:")
	buf.WriteString(strconv.Itoa(len(arr)))
	buf.WriteString(":{")
	for _, kv := range arr {
		key, err := normalizeKey(kv.Key)
		if err != nil {
			return err
		}
		switch k := key.(type) {
		case int64:
			writeInt(buf, k)
		case string:
			writeString(buf, k)
		}
		if err := encode(buf, kv.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// normalizeKey 和 PHP 一样，十进制整数形式的字符串键会被当成整数键
func normalizeKey(key interface{}) (interface{}, error) {
	switch k := key.(type) {
	case string:
		if isCanonicalInt(k) {
			n, err := strconv.ParseInt(k, 10, 64)
			if err == nil {
				return n, nil
			}
		}
		return k, nil
	default:
		rv := reflect.ValueOf(key)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if rv.Uint() > math.MaxInt64 {
				return nil, fmt.Errorf("%w: array key %v overflows PHP int", ErrUnsupportedType, key)
			}
			return int64(rv.Uint()), nil
		}
	}
	return nil, fmt.Errorf("%w: array key %T", ErrUnsupportedType, key)
}

func isCanonicalInt(s string) bool {
	if s == "" {
		return false
	}
	digits := s
	if s[0] == '-' {
		digits = s[1:]
		if digits == "" || digits == "0" {
			return false
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// Unmarshal 反序列化。数组统一解码为 Array，整数为 int64，浮点为 float64
func Unmarshal(data []byte) (interface{}, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf("trailing data")
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, d.pos, fmt.Sprintf(format, args...))
}

func (d *decoder) expect(b byte) error {
	if d.pos >= len(d.data) || d.data[d.pos] != b {
		return d.errorf("expected %q", b)
	}
	d.pos++
	return nil
}

// until 读取直到分隔符 b（不含），并跳过分隔符
func (d *decoder) until(b byte) (string, error) {
	idx := bytes.IndexByte(d.data[d.pos:], b)
	if idx < 0 {
		return "", d.errorf("missing %q", b)
	}
	s := string(d.data[d.pos : d.pos+idx])
	d.pos += idx + 1
	return s, nil
}

func (d *decoder) value() (interface{}, error) {
	if d.pos+1 >= len(d.data) {
		return nil, d.errorf("unexpected end of input")
	}
	kind := d.data[d.pos]
	d.pos++

	if kind == 'N' {
		if err := d.expect(';'); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := d.expect(':'); err != nil {
		return nil, err
	}

	switch kind {
	case 'b':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		switch s {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return nil, d.errorf("invalid bool %q", s)
	case 'i':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, d.errorf("invalid int %q", s)
		}
		return n, nil
	case 'd':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		switch s {
		case "NAN":
			return math.NaN(), nil
		case "INF":
			return math.Inf(1), nil
		case "-INF":
			return math.Inf(-1), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, d.errorf("invalid float %q", s)
		}
		return f, nil
	case 's':
		return d.str()
	case 'a':
		return d.array()
	}
	return nil, d.errorf("unsupported type %q", kind)
}

func (d *decoder) str() (string, error) {
	lenStr, err := d.until(':')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return "", d.errorf("invalid string length %q", lenStr)
	}
	if err := d.expect('"'); err != nil {
		return "", err
	}
	if d.pos+n > len(d.data) {
		return "", d.errorf("string length %d exceeds input", n)
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	if err := d.expect('"'); err != nil {
		return "", err
	}
	if err := d.expect(';'); err != nil {
		return "", err
	}
	return s, nil
}

func (d *decoder) array() (Array, error) {
	countStr, err := d.until(':')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return nil, d.errorf("invalid array length %q", countStr)
	}
	if err := d.expect('{'); err != nil {
		return nil, err
	}
	arr := make(Array, 0, count)
	for i := 0; i < count; i++ {
		key, err := d.value()
		if err != nil {
			return nil, err
		}
		switch key.(type) {
		case int64, string:
		default:
			return nil, d.errorf("invalid array key type %T", key)
		}
		val, err := d.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, KeyValue{Key: key, Value: val})
	}
	if err := d.expect('}'); err != nil {
		return nil, err
	}
	return arr, nil
}
