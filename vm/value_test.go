package vm

import (
	"math"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.14159, 1e300, -1e300, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := FromNumber(f)
		if !v.IsNumber() {
			t.Errorf("FromNumber(%v): not a number", f)
		}
		if got := v.Number(); got != f {
			t.Errorf("FromNumber(%v).Number() = %v", f, got)
		}
	}
}

func TestNaNIsStillANumber(t *testing.T) {
	v := FromNumber(math.NaN())
	if !v.IsNumber() {
		t.Fatal("a real NaN must remain a number")
	}
	if v.IsObject() || v.IsNil() || v.IsBool() {
		t.Fatal("a real NaN must not decode as a tagged value")
	}
}

func TestSpecialValues(t *testing.T) {
	if !Nil.IsNil() || Nil.IsBool() || Nil.IsNumber() || Nil.IsObject() {
		t.Error("Nil misclassified")
	}
	if !True.IsBool() || !True.Bool() {
		t.Error("True misclassified")
	}
	if !False.IsBool() || False.Bool() {
		t.Error("False misclassified")
	}
	if Nil == True || True == False || False == Nil {
		t.Error("special values must be distinct")
	}
}

func TestTruthiness(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	cases := []struct {
		value Value
		want  bool
	}{
		{Nil, false},
		{False, false},
		{True, true},
		{FromNumber(0), true},
		{FromNumber(1), true},
		{heap.InternString("").ToValue(), true},
		{heap.InternString("x").ToValue(), true},
	}
	for _, c := range cases {
		if got := c.value.IsTruthy(); got != c.want {
			t.Errorf("IsTruthy(%s) = %v, want %v", c.value.Render(), got, c.want)
		}
	}
}

func TestEqual(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	a := heap.InternString("foo").ToValue()
	b := heap.InternString("foo").ToValue()
	c := heap.InternString("bar").ToValue()

	cases := []struct {
		name string
		x, y Value
		want bool
	}{
		{"numbers equal", FromNumber(2), FromNumber(2), true},
		{"numbers unequal", FromNumber(2), FromNumber(3), false},
		{"zero and negative zero", FromNumber(0), FromNumber(math.Copysign(0, -1)), true},
		{"nan unequal to itself", FromNumber(math.NaN()), FromNumber(math.NaN()), false},
		{"nil equals nil", Nil, Nil, true},
		{"bool equals bool", True, True, true},
		{"bool unequal", True, False, false},
		{"nil not false", Nil, False, false},
		{"interned strings equal", a, b, true},
		{"distinct strings unequal", a, c, false},
		{"number not string", FromNumber(1), a, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equal(tc.x, tc.y); got != tc.want {
				t.Errorf("Equal(%s, %s) = %v, want %v",
					tc.x.Render(), tc.y.Render(), got, tc.want)
			}
		})
	}
}

func TestInterningIsIdentity(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	a := heap.InternString("hello")
	b := heap.InternString("hello")
	if a != b {
		t.Fatal("byte-equal strings must be the same heap object")
	}
	if a.ToValue() != b.ToValue() {
		t.Fatal("values of the same interned string must be identical")
	}
}

func TestRender(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	fn := heap.NewFunction("fib", 1)
	closure := heap.NewClosure(fn)
	class := heap.NewClass(heap.InternString("Greeter"))
	instance := heap.NewInstance(class)
	method := heap.NewClosure(heap.NewFunction("hi", 0))
	bound := heap.NewBoundMethod(instance, method)
	native := heap.NewNative("clock", 0, nil)

	cases := []struct {
		value Value
		want  string
	}{
		{Nil, "nil"},
		{True, "true"},
		{False, "false"},
		{FromNumber(7), "7"},
		{FromNumber(0.5), "0.5"},
		{FromNumber(1e21), "1e+21"},
		{heap.InternString("hi there").ToValue(), "hi there"},
		{fn.ToValue(), "<fn fib>"},
		{closure.ToValue(), "<fn fib>"},
		{native.ToValue(), "<native fn clock>"},
		{class.ToValue(), "<class Greeter>"},
		{instance.ToValue(), "<instance of <class Greeter>>"},
		{bound.ToValue(), "<bound method <fn hi> of <instance of <class Greeter>>>"},
	}
	for _, c := range cases {
		if got := c.value.Render(); got != c.want {
			t.Errorf("Render() = %q, want %q", got, c.want)
		}
	}
}

func TestKind(t *testing.T) {
	heap := NewHeap(HeapOptions{})
	if got := heap.InternString("s").ToValue().Kind(); got != KindString {
		t.Errorf("string value kind = %v", got)
	}
	if got := FromNumber(1).Kind(); got != KindNone {
		t.Errorf("number value kind = %v", got)
	}
	if got := Nil.Kind(); got != KindNone {
		t.Errorf("nil value kind = %v", got)
	}
}
