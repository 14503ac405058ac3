// Package errors provides standardized error handling for the beamlet input section.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid (bad input or
// API misuse, non-retryable) and Fatal (unrecoverable, stop processing).
//
// The buffer itself adds a fourth, implicit category that never surfaces as an error at all:
// data-quality problems. Late, duplicate and missing packets, and data overwritten under
// backpressure, are recorded as gaps and reported to consumers through flags. Only contract
// violations by a producer or consumer are returned as errors:
//
//	if len(payload) != geometry.PacketBytes() {
//	    return errors.WrapFatal(errors.ErrPayloadSize, "BeamletBuffer", "WritePacket", "payload check")
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// # Integration with errors.As/Is
//
// ClassifiedError implements Unwrap, so sentinels stay matchable through the chain:
//
//	err := buf.WritePackets(ctx, payloads, timestamps)
//	if errors.Is(err, errors.ErrLengthMismatch) {
//	    // collaborator bug
//	}
package errors
