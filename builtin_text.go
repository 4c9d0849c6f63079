package formulaeval

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// maxTextLength is the longest text a cell can hold
const maxTextLength = 32767

func textResult(s string) (Value, error) {
	if utf8.RuneCountInString(s) > maxTextLength {
		return nil, NewSpreadsheetError(ErrorCodeValue, "text is longer than a cell can hold")
	}
	return TextValue(s), nil
}

func (bf *BuiltInFunctions) CONCATENATE(ec *OperationContext, args []Value) (Value, error) {
	var sb strings.Builder
	for _, arg := range args {
		s, err := ec.Text(arg)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return textResult(sb.String())
}

func (bf *BuiltInFunctions) LEN(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	return NumberValue(utf8.RuneCountInString(s)), nil
}

func (bf *BuiltInFunctions) UPPER(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	return TextValue(strings.ToUpper(s)), nil
}

func (bf *BuiltInFunctions) LOWER(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	return TextValue(strings.ToLower(s)), nil
}

// TRIM removes leading and trailing spaces and collapses runs of inner
// spaces to one. other whitespace is kept.
func (bf *BuiltInFunctions) TRIM(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' })
	return TextValue(strings.Join(fields, " ")), nil
}

// countArg reads the optional character count of LEFT and RIGHT. it is 1
// when left out, an empty argument counts as 0.
func countArg(ec *OperationContext, args []Value, i int) (int, error) {
	if len(args) <= i {
		return 1, nil
	}
	n, err := ec.Int(args[i])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, NewSpreadsheetError(ErrorCodeValue, "character count must not be negative")
	}
	return n, nil
}

func (bf *BuiltInFunctions) LEFT(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	n, err := countArg(ec, args, 1)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	return TextValue(string(runes[:min(n, len(runes))])), nil
}

func (bf *BuiltInFunctions) RIGHT(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	n, err := countArg(ec, args, 1)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	return TextValue(string(runes[len(runes)-min(n, len(runes)):])), nil
}

func (bf *BuiltInFunctions) MID(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	start, err := ec.Int(args[1])
	if err != nil {
		return nil, err
	}
	n, err := ec.Int(args[2])
	if err != nil {
		return nil, err
	}
	if start < 1 || n < 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "MID position out of range")
	}
	runes := []rune(s)
	if start > len(runes) {
		return TextValue(""), nil
	}
	end := min(start-1+n, len(runes))
	return TextValue(string(runes[start-1 : end])), nil
}

func (bf *BuiltInFunctions) REPT(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	n, err := ec.Int(args[1])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "REPT count must not be negative")
	}
	if n > 0 && utf8.RuneCountInString(s) > maxTextLength/n {
		return nil, NewSpreadsheetError(ErrorCodeValue, "text is longer than a cell can hold")
	}
	return TextValue(strings.Repeat(s, n)), nil
}

// EXACT compares case-sensitively.
func (bf *BuiltInFunctions) EXACT(ec *OperationContext, args []Value) (Value, error) {
	a, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	b, err := ec.Text(args[1])
	if err != nil {
		return nil, err
	}
	return BoolValue(a == b), nil
}

// CHAR and CODE use the Windows-1252 code page, like the desktop
// application on western systems.
func (bf *BuiltInFunctions) CHAR(ec *OperationContext, args []Value) (Value, error) {
	n, err := ec.Int(args[0])
	if err != nil {
		return nil, err
	}
	if n < 1 || n > 255 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "CHAR code out of range")
	}
	return TextValue(string(charmap.Windows1252.DecodeByte(byte(n)))), nil
}

func (bf *BuiltInFunctions) CODE(ec *OperationContext, args []Value) (Value, error) {
	s, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, NewSpreadsheetError(ErrorCodeValue, "CODE of empty text")
	}
	r, _ := utf8.DecodeRuneInString(s)
	b, ok := charmap.Windows1252.EncodeRune(r)
	if !ok {
		b = '?'
	}
	return NumberValue(b), nil
}

func (bf *BuiltInFunctions) VALUE(ec *OperationContext, args []Value) (Value, error) {
	v, err := ec.SingleValue(args[0])
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case NumberValue:
		return x, nil
	case BlankValue:
		return NumberValue(0), nil
	case TextValue:
		if n, ok := parseNumber(string(x)); ok {
			return NumberValue(n), nil
		}
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "VALUE cannot convert "+ValueString(v))
}
