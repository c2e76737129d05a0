// Package protocol implements the Klipper wire protocol: VLQ argument
// encoding, CRC16 and the message blocks exchanged between host and MCU.
//
// A block is <len><seq><payload...><crc hi><crc lo><0x7E>, at most 64
// bytes. The payload is a run of commands, each a VLQ ID followed by its
// VLQ encoded arguments. An empty payload is an ACK (or NAK) for seq.
package protocol

const (
	// MessageMax bounds one ScratchOutput: several blocks can be queued
	// before the output is flushed.
	MessageMax = 512

	MessageSeqMask = 0x0F
)
