package ink

import (
	"reflect"
	"testing"
)

func rootWithDone(children ...Object) *Container {
	root := &Container{}
	for _, c := range children {
		root.AddContent(c)
	}
	root.AddContent(NewControlCommand(CmdDone))
	return root
}

// TestContinuePlainText exercises the step loop end to end on a story
// with no glue, diverts, or choices: the whole line should come back
// from a single Continue call.
func TestContinuePlainText(t *testing.T) {
	story := NewStory(rootWithDone(NewStringValue("Hello world\n")), nil)
	text, err := story.Continue()
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if text != "Hello world\n" {
		t.Fatalf("Continue() = %q, want %q", text, "Hello world\n")
	}
	if story.CanContinue() {
		t.Fatalf("story should be exhausted after Done")
	}
}

// TestContinueArithmetic checks that an inline evaluation of a native
// function call is evaluated and its result pushed to the output
// stream as text.
func TestContinueArithmetic(t *testing.T) {
	root := rootWithDone(
		NewControlCommand(CmdEvalStart),
		&IntValue{Val: 2},
		&IntValue{Val: 3},
		NewNativeFunctionCall("+"),
		NewControlCommand(CmdEvalOutput),
		NewControlCommand(CmdEvalEnd),
	)
	story := NewStory(root, nil)
	text, err := story.Continue()
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if text != "5" {
		t.Fatalf("Continue() = %q, want %q", text, "5")
	}
}

// TestProcessChoiceTrimsTextAndExtinguishesOnceOnly checks that choice
// text is whitespace-trimmed and that a once-only choice point stops
// producing a choice once its target has been visited.
func TestProcessChoiceTrimsTextAndExtinguishesOnceOnly(t *testing.T) {
	root := &Container{}
	target := &Container{Name: "knot", VisitsShouldBeCounted: true}
	root.AddContent(target)
	story := NewStory(root, nil)

	cp := NewChoicePoint()
	cp.PathStringOnChoice = "knot"
	cp.HasStartContent = true

	story.State().PushEvaluationStack(NewStringValue("  Pick me  "))
	choice, err := story.processChoice(cp)
	if err != nil {
		t.Fatalf("processChoice() error = %v", err)
	}
	if choice == nil {
		t.Fatalf("expected a choice before the target has been visited")
	}
	if choice.Text != "Pick me" {
		t.Fatalf("choice.Text = %q, want %q", choice.Text, "Pick me")
	}

	story.State().IncrementVisitCountForContainer(target)

	story.State().PushEvaluationStack(NewStringValue("  Pick me  "))
	choice, err = story.processChoice(cp)
	if err != nil {
		t.Fatalf("processChoice() error = %v", err)
	}
	if choice != nil {
		t.Fatalf("expected once-only choice to be extinguished after a visit")
	}
}

// TestTryFollowDefaultInvisibleChoice checks that when every generated
// choice is an invisible default, the story follows the first one
// automatically instead of waiting on ChooseChoiceIndex.
func TestTryFollowDefaultInvisibleChoice(t *testing.T) {
	root := &Container{}
	target := &Container{Name: "landing"}
	root.AddContent(target)
	story := NewStory(root, nil)

	choice := &Choice{
		IsInvisibleDefault: true,
		PathStringOnChoice: "landing",
		ThreadAtGeneration: story.State().CallStack().CurrentThread().Copy(),
	}
	story.State().SetGeneratedChoices([]*Choice{choice})

	if !story.tryFollowDefaultInvisibleChoice() {
		t.Fatalf("expected the default invisible choice to be followed")
	}
	if len(story.State().GeneratedChoices()) != 0 {
		t.Fatalf("expected generated choices to be cleared")
	}
	want := PathOf(target).String()
	if got := story.State().CurrentPointer().Path().String(); got != want {
		t.Fatalf("current pointer path = %q, want %q", got, want)
	}
}

// TestExternalFunctionDeferredDuringLookahead checks that a
// lookahead-unsafe external function encountered while the story is
// speculatively reading ahead past a newline is not actually invoked
// until the following Continue call re-reaches it for real.
func TestExternalFunctionDeferredDuringLookahead(t *testing.T) {
	root := &Container{}
	root.AddContent(NewStringValue("Hello\n"))
	root.AddContent(&Divert{IsExternal: true, TargetPathString: "delayed"})
	root.AddContent(NewStringValue("more"))
	root.AddContent(NewControlCommand(CmdDone))

	story := NewStory(root, nil)
	calls := 0
	story.BindExternalFunction("delayed", func(args []any) (any, error) {
		calls++
		return nil, nil
	}, false)

	line1, err := story.Continue()
	if err != nil {
		t.Fatalf("Continue() #1 error = %v", err)
	}
	if line1 != "Hello\n" {
		t.Fatalf("Continue() #1 = %q, want %q", line1, "Hello\n")
	}
	if calls != 0 {
		t.Fatalf("external function called during lookahead: calls = %d, want 0", calls)
	}

	line2, err := story.Continue()
	if err != nil {
		t.Fatalf("Continue() #2 error = %v", err)
	}
	if line2 != "more" {
		t.Fatalf("Continue() #2 = %q, want %q", line2, "more")
	}
	if calls != 1 {
		t.Fatalf("external function call count = %d, want 1", calls)
	}
}

// TestVariableObserverFiresOnceAfterBatch checks that a variable
// observer doesn't fire while a batch is in progress, and fires
// exactly once with the final value once the batch completes.
func TestVariableObserverFiresOnceAfterBatch(t *testing.T) {
	cs := NewCallStack(NullPointer())
	vs := NewVariablesState(cs, nil)

	var fired []Value
	vs.ObserveVariable("score", func(name string, value Value) {
		fired = append(fired, value)
	})

	vs.StartVariableObservation()
	vs.SetGlobal("score", &IntValue{Val: 1})
	vs.SetGlobal("score", &IntValue{Val: 2})
	if len(fired) != 0 {
		t.Fatalf("observer fired during batch: %v", fired)
	}

	changed := vs.CompleteVariableObservation()
	if !reflect.DeepEqual(changed, []string{"score"}) {
		t.Fatalf("CompleteVariableObservation() = %v, want [score]", changed)
	}
	vs.NotifyObservers(changed)

	if len(fired) != 1 {
		t.Fatalf("observer fired %d times, want 1", len(fired))
	}
	if iv, ok := fired[0].(*IntValue); !ok || iv.Val != 2 {
		t.Fatalf("observer received %v, want IntValue(2)", fired[0])
	}
}
