// Package solo contains single-value, synchronous primitives over
// rop.Result. Each directive task threads its fetch through them:
//
// - Succeed/Fail: construct a Result
// - Try: call a (Out, error) function, classifying context errors as cancels
// - DoubleTee: side effects (logging) per outcome
// - Finally: reduce a Result to the bytes written into the document
package solo
