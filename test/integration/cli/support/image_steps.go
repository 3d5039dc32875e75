package support

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// aPhotoDirectory creates an empty directory addressable as {name}.
func (testCtx *TestContext) aPhotoDirectory(name string) error {
	dir := filepath.Join(testCtx.TempDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create photo directory: %w", err)
	}
	testCtx.Dirs[name] = dir
	testCtx.CurrentDir = dir
	return nil
}

// aMarkedPhotograph writes a photograph with text marked inside the crop of
// machineName.
func (testCtx *TestContext) aMarkedPhotograph(name, text, machineName string) error {
	profile, err := machine.DefaultRegistry().Resolve(machineName)
	if err != nil {
		return err
	}
	img, err := testutil.DataMatrixPhoto(text, profile.Rectangle(), testutil.DefaultModuleSize)
	if err != nil {
		return err
	}
	return imaging.Save(img, testCtx.path(name))
}

func (testCtx *TestContext) aBlankPhotograph(name string) error {
	return imaging.Save(testutil.BlankPhoto(), testCtx.path(name))
}

func (testCtx *TestContext) aCorruptImage(name string) error {
	return os.WriteFile(testCtx.path(name), []byte("not an image"), 0o600)
}

func (testCtx *TestContext) aTextFile(name string) error {
	return os.WriteFile(testCtx.path(name), []byte("notes"), 0o600)
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if !testutil.FileExists(testCtx.substituteCommandVariables(name)) {
		return fmt.Errorf("file %s does not exist", name)
	}
	return nil
}

// RegisterImageSteps registers photograph fixture steps.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a photo directory "([^"]*)"$`, testCtx.aPhotoDirectory)
	sc.Step(`^a photograph "([^"]*)" marked with "([^"]*)" for "([^"]*)"$`, testCtx.aMarkedPhotograph)
	sc.Step(`^a blank photograph "([^"]*)"$`, testCtx.aBlankPhotograph)
	sc.Step(`^a corrupt image "([^"]*)"$`, testCtx.aCorruptImage)
	sc.Step(`^a text file "([^"]*)"$`, testCtx.aTextFile)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}
