// mathtool 是沙箱内运行的算术求值工具。
// 从标准输入读取 {"expression": "..."}, 把结果以
// {"result": <number>} 写回标准输出。
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"
)

type request struct {
	Expression string `json:"expression"`
}

type response struct {
	Result float64 `json:"result"`
}

func main() {
	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "无法解析输入: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(req.Expression) == "" {
		fmt.Fprintln(os.Stderr, "expression 不能为空")
		os.Exit(1)
	}

	value, err := evaluate(req.Expression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "求值失败: %v\n", err)
		os.Exit(1)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		fmt.Fprintln(os.Stderr, "表达式结果不是有限数")
		os.Exit(1)
	}

	_ = json.NewEncoder(os.Stdout).Encode(response{Result: value})
}

// evaluate 实现一个最小的递归下降求值器:
// 支持 + - * /、括号与一元负号。
func evaluate(input string) (float64, error) {
	p := &parser{input: []rune(input)}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("位置 %d 存在多余字符", p.pos)
	}
	return value, nil
}

type parser struct {
	input []rune
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *parser) peek() rune {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("除数为零")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (float64, error) {
	switch ch := p.peek(); {
	case ch == '(':
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("位置 %d 缺少右括号", p.pos)
		}
		p.pos++
		return value, nil
	case ch == '-':
		p.pos++
		value, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case ch == '+':
		p.pos++
		return p.parseFactor()
	case unicode.IsDigit(ch) || ch == '.':
		return p.parseNumber()
	case ch == 0:
		return 0, fmt.Errorf("表达式意外结束")
	default:
		return 0, fmt.Errorf("位置 %d 存在非法字符 %q", p.pos, ch)
	}
}

func (p *parser) parseNumber() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && (unicode.IsDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	raw := string(p.input[start:p.pos])
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("非法数字 %q", raw)
	}
	return value, nil
}
