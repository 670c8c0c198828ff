package idutil

import (
	"testing"

	"go.viam.com/test"
)

func TestCleanID(t *testing.T) {
	test.That(t, CleanID("accelerometersensor"), test.ShouldEqual, "accelerometersensor")
	test.That(t, CleanID("accelerometersensor;interval=50"), test.ShouldEqual, "accelerometersensor")
	test.That(t, CleanID("a;b=c;d=e"), test.ShouldEqual, "a")
	test.That(t, CleanID(""), test.ShouldEqual, "")
}

func TestHasParameters(t *testing.T) {
	test.That(t, HasParameters("accel"), test.ShouldBeFalse)
	test.That(t, HasParameters("accel;interval=50"), test.ShouldBeTrue)
	test.That(t, HasParameters("accel;"), test.ShouldBeTrue)
}

func TestParameters(t *testing.T) {
	test.That(t, Parameters("accel"), test.ShouldBeNil)

	params := Parameters("accel;interval=50;bufferSize=4")
	test.That(t, params, test.ShouldResemble, map[string]string{
		"interval":   "50",
		"bufferSize": "4",
	})

	// malformed pairs are skipped, duplicates resolve to the last value
	params = Parameters("accel;=5;interval=;interval=10;interval=20;junk")
	test.That(t, params, test.ShouldResemble, map[string]string{"interval": "20"})
}
