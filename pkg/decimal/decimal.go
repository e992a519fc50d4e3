// Package decimal 精度计算工具
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimal 高精度十进制数
type Decimal struct {
	value *big.Int // 内部值（最小单位整数）
	scale int      // 小数位数
}

// Zero 零值
var Zero = &Decimal{value: big.NewInt(0), scale: 0}

// New 从字符串创建
func New(s string) (*Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}

	value := new(big.Int)
	if _, ok := value.SetString(intPart+fracPart, 10); !ok {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	if negative {
		value.Neg(value)
	}

	return &Decimal{value: value, scale: len(fracPart)}, nil
}

// FromIntWithScale 从最小单位整数创建
func FromIntWithScale(v int64, scale int) *Decimal {
	return &Decimal{
		value: big.NewInt(v),
		scale: scale,
	}
}

// FormatScaled 把最小单位整数格式化为固定小数位的字符串（价格展示用）
func FormatScaled(v int64, scale int) string {
	return FromIntWithScale(v, scale).Fixed()
}

// ParseScaled 把十进制字符串转换为最小单位整数，超出精度的部分截断
func ParseScaled(s string, scale int) (int64, error) {
	d, err := New(s)
	if err != nil {
		return 0, err
	}
	return d.ToInt(scale), nil
}

// String 转字符串（去除尾部零）
func (d *Decimal) String() string {
	s := d.Fixed()
	if d == nil || d.scale == 0 || !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Fixed 保留全部小数位
func (d *Decimal) Fixed() string {
	if d == nil || d.value == nil {
		return "0"
	}

	s := d.value.String()
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	if d.scale > 0 {
		for len(s) <= d.scale {
			s = "0" + s
		}
		pos := len(s) - d.scale
		s = s[:pos] + "." + s[pos:]
	}

	if negative {
		return "-" + s
	}
	return s
}

// Cmp 比较：-1 (d < other), 0 (d == other), 1 (d > other)
func (d *Decimal) Cmp(other *Decimal) int {
	d1, d2 := d.alignScale(other)
	return d1.value.Cmp(d2.value)
}

// ToInt 转为最小单位整数
func (d *Decimal) ToInt(scale int) int64 {
	return d.setScale(scale).value.Int64()
}

func (d *Decimal) alignScale(other *Decimal) (*Decimal, *Decimal) {
	if d.scale == other.scale {
		return d, other
	}
	if d.scale > other.scale {
		return d, other.setScale(d.scale)
	}
	return d.setScale(other.scale), other
}

func (d *Decimal) setScale(scale int) *Decimal {
	if scale == d.scale {
		return d
	}

	diff := scale - d.scale
	result := new(big.Int).Set(d.value)

	if diff > 0 {
		multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
		result.Mul(result, multiplier)
	} else {
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-diff)), nil)
		result.Quo(result, divisor)
	}

	return &Decimal{value: result, scale: scale}
}
