package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-dirsync/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestInstallTenantMessage_ValidateReturnsRichError(t *testing.T) {
	err := (InstallTenantMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.EngineErrorBadInput, rich.TextCode)
	}
}

func TestInstallTenantCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *InstallTenantCommand
	err := cmd.Execute(context.Background(), InstallTenantMessage{Input: validInstallInput()})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

func TestCommandInvalidInputErrorEnvelope(t *testing.T) {
	err := commandInvalidInputError("command: tenant id is required")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.EngineErrorBadInput, rich.TextCode)
	}
}
